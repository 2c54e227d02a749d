package apiclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Chat errors mapped from the server's refusal statuses.
var (
	ErrNoCredits   = errors.New("no chat credits left")
	ErrVaultClosed = errors.New("vault prize has been claimed")
)

const maxEventLine = 1 << 20

// ChatEvent is one server-sent event from a chat reply.
type ChatEvent struct {
	Name string
	Data json.RawMessage
}

// ChatReply is the final summary of a streamed reply.
type ChatReply struct {
	Reply            string `json:"reply"`
	CreditsRemaining int64  `json:"creditsRemaining"`
	Won              bool   `json:"won"`
	TxHash           string `json:"txHash,omitempty"`
}

// Chat sends message to the vault agent and calls onToken with each streamed
// piece of the reply. It returns once the server sends the done event.
func (c *Client) Chat(ctx context.Context, vaultID, message string, onToken func(string)) (*ChatReply, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/chat/"+url.PathEscape(vaultID)+"/messages", nil, map[string]string{
		"walletAddress": c.wallet,
		"message":       message,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		se := readError(resp)
		switch se.Status {
		case http.StatusPaymentRequired:
			return nil, ErrNoCredits
		case http.StatusGone:
			return nil, ErrVaultClosed
		case http.StatusNotFound:
			return nil, ErrVaultNotFound
		}
		return nil, se
	}

	var reply *ChatReply
	err = readEvents(resp.Body, func(ev ChatEvent) error {
		switch ev.Name {
		case "token":
			var tok struct {
				Content string `json:"content"`
			}
			if err := json.Unmarshal(ev.Data, &tok); err != nil {
				return fmt.Errorf("decode token event: %w", err)
			}
			if onToken != nil {
				onToken(tok.Content)
			}
		case "done":
			reply = &ChatReply{}
			if err := json.Unmarshal(ev.Data, reply); err != nil {
				return fmt.Errorf("decode done event: %w", err)
			}
			return io.EOF
		case "error":
			var e struct {
				Error string `json:"error"`
			}
			_ = json.Unmarshal(ev.Data, &e)
			return fmt.Errorf("chat failed: %s", e.Error)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reply == nil {
		return nil, errors.New("chat stream ended before the reply completed")
	}
	return reply, nil
}

// readEvents parses a text/event-stream body. Returning io.EOF from fn
// stops reading without error.
func readEvents(body io.Reader, fn func(ChatEvent) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventLine)

	var ev ChatEvent
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if ev.Name == "" && data.Len() == 0 {
				continue
			}
			if ev.Name == "" {
				ev.Name = "message"
			}
			ev.Data = json.RawMessage(data.String())
			if err := fn(ev); err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
			ev = ChatEvent{}
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read chat stream: %w", err)
	}
	return nil
}

// WatchCredits follows the wallet's credit balance until ctx is done or the
// server closes the stream. onUpdate gets the balance on connect and after
// every change.
func (c *Client) WatchCredits(ctx context.Context, onUpdate func(credits int64)) error {
	q := url.Values{"token": {c.token}, "wallet": {c.wallet}}
	req, err := c.newRequest(ctx, http.MethodGet, "/users/"+url.PathEscape(c.wallet)+"/credits/stream", q, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("credit stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}

	err = readEvents(resp.Body, func(ev ChatEvent) error {
		if ev.Name != "credits" {
			return nil
		}
		var upd struct {
			Credits int64 `json:"credits"`
		}
		if err := json.Unmarshal(ev.Data, &upd); err != nil {
			return fmt.Errorf("decode credits event: %w", err)
		}
		onUpdate(upd.Credits)
		return nil
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
