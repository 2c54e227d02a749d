package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vault-gate/apiclient"
	"vault-gate/orchestrator"
	"vault-gate/policy"
)

func parseSteps(args []string) ([]policy.StepKind, error) {
	steps := make([]policy.StepKind, 0, len(args))
	for _, a := range args {
		step, ok := policy.ParseStep(a)
		if !ok {
			return nil, fmt.Errorf("unknown step %q", a)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func printSnapshot(w io.Writer, snap orchestrator.Snapshot, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	fmt.Fprintf(w, "vault %s\n", snap.VaultID)
	for _, st := range snap.Steps {
		line := fmt.Sprintf("  %-22s %s", st.Step, st.Phase)
		switch {
		case st.Locked:
			line += "  (locked)"
		case st.Optimistic:
			line += "  (optimistic)"
		}
		if st.Message != "" {
			line += "  " + st.Message
		}
		fmt.Fprintln(w, line)
	}
	if snap.IdentityConflict {
		fmt.Fprintln(w, "  ! this Twitter account is linked to another wallet")
	}
	switch {
	case snap.CreditsAwarded:
		fmt.Fprintln(w, "  free credits: awarded")
	case snap.RewardError != "":
		fmt.Fprintf(w, "  free credits: failed (%s)\n", snap.RewardError)
	}
	if snap.AllStepsComplete {
		fmt.Fprintln(w, "  all steps complete; run `questctl proceed`")
	}
	return nil
}

func newVerifyCmd(opts *options) *cobra.Command {
	var watch time.Duration
	cmd := &cobra.Command{
		Use:   "verify <vault> [step...]",
		Short: "Check verification steps against the gate server",
		Long: `Checks the given steps, or every outstanding step when none are named.
Steps already in the ledger are not checked again. With --watch the check
repeats until every Twitter step is verified.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := parseSteps(args[1:])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := opts.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer s.close()

			switch {
			case len(steps) > 0:
				for _, step := range steps {
					if _, err := s.orch.CheckStep(ctx, step); err != nil {
						if errors.Is(err, orchestrator.ErrIdentityConflict) {
							break
						}
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", step, err)
					}
				}
			case watch > 0:
				if err := s.orch.Watch(ctx, watch); err != nil && !errors.Is(err, orchestrator.ErrIdentityConflict) {
					return err
				}
			default:
				if err := s.orch.CheckAll(ctx); err != nil {
					return err
				}
			}
			return printSnapshot(cmd.OutOrStdout(), s.orch.Snapshot(), opts.jsonOut)
		},
	}
	cmd.Flags().DurationVar(&watch, "watch", 0, "re-check on this interval until the Twitter steps pass")
	return cmd
}

func newConfirmCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <vault> <step>",
		Short: "Mark a community link step (telegram, discord, linkedin, extraLink) as visited",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := parseSteps(args[1:])
			if err != nil {
				return err
			}
			s, err := opts.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.close()
			if link := linkFor(s.policy, steps[0]); link != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "open %s\n", link)
			}
			if _, err := s.orch.Confirm(cmd.Context(), steps[0]); err != nil {
				return err
			}
			return printSnapshot(cmd.OutOrStdout(), s.orch.Snapshot(), opts.jsonOut)
		},
	}
}

func linkFor(p policy.VaultPolicy, step policy.StepKind) string {
	switch step {
	case policy.StepTelegram:
		return p.Links.Telegram
	case policy.StepDiscord:
		return p.Links.Discord
	case policy.StepLinkedIn:
		return p.Links.LinkedIn
	case policy.StepExtraLink:
		return p.Links.Extra
	}
	return ""
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <vault>",
		Short: "Show the recorded state of every step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.close()
			return printSnapshot(cmd.OutOrStdout(), s.orch.Snapshot(), opts.jsonOut)
		},
	}
}

func newResetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <vault> [step...]",
		Short: "Forget verified steps so they are checked again",
		Long:  "Resets the named steps and the steps that depend on them, or the whole vault record when none are named.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := parseSteps(args[1:])
			if err != nil {
				return err
			}
			s, err := opts.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.close()
			if len(steps) == 0 {
				err = s.orch.ResetAll(cmd.Context())
			} else {
				err = s.orch.Reset(cmd.Context(), steps...)
			}
			if err != nil {
				return err
			}
			return printSnapshot(cmd.OutOrStdout(), s.orch.Snapshot(), opts.jsonOut)
		},
	}
}

func newProceedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "proceed <vault>",
		Short: "Unlock chat once every required step is verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.close()
			path, err := s.orch.Proceed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "chat unlocked: %s\n", path)
			return nil
		},
	}
}

func newChatCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <vault> [message]",
		Short: "Chat with the vault agent; each message costs one credit",
		Long: `Sends one message, or reads messages from stdin line by line when none
is given. Requires a successful ` + "`questctl proceed`" + ` for the vault.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer s.close()

			rec, err := s.store.Get(ctx, s.policy.VaultID)
			if err != nil {
				return err
			}
			if rec == nil || !rec.AllStepsVerified {
				return errors.New("chat is locked; verify every step and run `questctl proceed` first")
			}

			out := cmd.OutOrStdout()
			send := func(message string) (bool, error) {
				reply, err := s.client.Chat(ctx, s.policy.VaultID, message, func(tok string) {
					fmt.Fprint(out, tok)
				})
				fmt.Fprintln(out)
				if err != nil {
					return false, err
				}
				if reply.Won {
					fmt.Fprintf(out, "You won the vault! tx %s\n", reply.TxHash)
					return true, nil
				}
				fmt.Fprintf(out, "[%d credits left]\n", reply.CreditsRemaining)
				return false, nil
			}

			if len(args) > 1 {
				_, err := send(strings.Join(args[1:], " "))
				return err
			}
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				msg := strings.TrimSpace(scanner.Text())
				if msg == "" {
					continue
				}
				won, err := send(msg)
				if errors.Is(err, apiclient.ErrNoCredits) || errors.Is(err, apiclient.ErrVaultClosed) {
					return err
				}
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
					continue
				}
				if won {
					return nil
				}
			}
		},
	}
}
