package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vault-gate/apiclient"
	"vault-gate/ledger"
	"vault-gate/orchestrator"
	"vault-gate/policy"
	"vault-gate/utils"
)

// options holds the global flags.
type options struct {
	serverURL  string
	token      string
	wallet     string
	twitterID  string
	username   string
	ledgerDir  string
	policyFile string
	ephemeral  bool
	timeout    time.Duration
	logLevel   string
	jsonOut    bool

	logger *zap.Logger
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func defaultLedgerDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "questctl", "ledger")
	}
	return ".questctl-ledger"
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "questctl",
		Short: "Complete vault quests and chat with the vault agent",
		Long: `questctl verifies the social steps a vault requires (Twitter follows,
retweet, like, tweet and community links), claims the free chat credits
and opens the chat with the vault's agent once every step is done.

Verified steps are kept in a local ledger so they are never checked twice.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := utils.NewLogger(opts.logLevel)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.serverURL, "server", envOr("QUESTCTL_SERVER_URL", "http://localhost:8080"), "gate server URL")
	pf.StringVar(&opts.token, "token", os.Getenv("SERVICE_TOKEN"), "gate service token")
	pf.StringVar(&opts.wallet, "wallet", os.Getenv("QUESTCTL_WALLET"), "connected wallet address")
	pf.StringVar(&opts.twitterID, "twitter-id", os.Getenv("QUESTCTL_TWITTER_ID"), "numeric Twitter/X user id")
	pf.StringVar(&opts.username, "twitter-username", os.Getenv("QUESTCTL_TWITTER_USERNAME"), "Twitter/X handle")
	pf.StringVar(&opts.ledgerDir, "ledger-dir", envOr("QUESTCTL_LEDGER_DIR", defaultLedgerDir()), "local verification ledger directory")
	pf.StringVar(&opts.policyFile, "policy", os.Getenv("QUESTCTL_POLICY_FILE"), "vault policy YAML file")
	pf.BoolVar(&opts.ephemeral, "ephemeral", false, "keep the ledger in memory for this run only")
	pf.DurationVar(&opts.timeout, "timeout", apiclient.DefaultTimeout, "per-request timeout")
	pf.StringVar(&opts.logLevel, "log-level", envOr("LOG_LEVEL", "warn"), "log level")
	pf.BoolVar(&opts.jsonOut, "json", false, "print state as JSON")

	root.AddCommand(
		newVerifyCmd(opts),
		newConfirmCmd(opts),
		newStatusCmd(opts),
		newResetCmd(opts),
		newProceedCmd(opts),
		newChatCmd(opts),
	)
	return root
}

// session is everything one command needs for one vault.
type session struct {
	client *apiclient.Client
	store  ledger.Store
	orch   *orchestrator.Orchestrator
	policy policy.VaultPolicy
	close  func()
}

func (o *options) newClient() (*apiclient.Client, error) {
	if o.wallet == "" {
		return nil, errors.New("--wallet (or QUESTCTL_WALLET) is required")
	}
	return apiclient.New(apiclient.Config{
		BaseURL: o.serverURL,
		Token:   o.token,
		Wallet:  o.wallet,
		Timeout: o.timeout,
		Logger:  o.logger,
	})
}

func (o *options) openLedger() (ledger.Store, func(), error) {
	if o.ephemeral {
		return ledger.NewMemoryStore(nil), func() {}, nil
	}
	store, err := ledger.OpenBadger(ledger.BadgerConfig{Dir: o.ledgerDir, Logger: o.logger})
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

// resolvePolicy layers the server's vault content over the local policy
// file. The server copy wins for targets and links it sets.
func (o *options) resolvePolicy(ctx context.Context, client *apiclient.Client, vaultID string) (policy.VaultPolicy, error) {
	reg := policy.NewRegistry()
	if o.policyFile != "" {
		var err error
		if reg, err = policy.LoadFile(o.policyFile); err != nil {
			return policy.VaultPolicy{}, err
		}
	}
	p := reg.Lookup(vaultID)

	vault, err := client.Vault(ctx, vaultID)
	switch {
	case errors.Is(err, apiclient.ErrVaultNotFound):
		return policy.VaultPolicy{}, fmt.Errorf("vault %s: %w", vaultID, err)
	case err != nil:
		o.logger.Warn("[CONFIG] vault content unavailable, using local policy", zap.String("vault", vaultID), zap.Error(err))
		return p, nil
	}
	// Ledger records are keyed by the canonical id even when a slug is given.
	if vault.ID != "" && vault.ID != vaultID {
		p = reg.Lookup(vault.ID)
	}
	return p.ApplyVault(vault.Content()), nil
}

func (o *options) open(ctx context.Context, vaultID string) (*session, error) {
	client, err := o.newClient()
	if err != nil {
		return nil, err
	}
	pol, err := o.resolvePolicy(ctx, client, vaultID)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := o.openLedger()
	if err != nil {
		return nil, err
	}
	orch, err := orchestrator.New(orchestrator.Config{
		Policy:   pol,
		Wallet:   o.wallet,
		Subject:  orchestrator.Subject{TwitterID: o.twitterID, Username: o.username},
		Verifier: client,
		Rewarder: client,
		Ledger:   store,
		Logger:   o.logger,
	})
	if err != nil {
		closeStore()
		return nil, err
	}
	if err := orch.Load(ctx); err != nil {
		orch.Close()
		closeStore()
		return nil, err
	}
	return &session{
		client: client,
		store:  store,
		orch:   orch,
		policy: pol,
		close: func() {
			orch.Close()
			closeStore()
		},
	}, nil
}
