// Package chat holds the vault agent abstraction and the payout marker parser.
package chat

import (
	"context"
	"errors"
)

// Role of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role
	Content string
}

// Request is everything the agent sees for one reply.
type Request struct {
	VaultID      string
	Wallet       string
	SystemPrompt string
	History      []Message
	Message      string
}

// TokenFunc receives each streamed piece of the reply. Returning an error
// aborts the stream.
type TokenFunc func(token string) error

// Agent produces a streamed reply. It returns the full reply text.
type Agent interface {
	Reply(ctx context.Context, req Request, onToken TokenFunc) (string, error)
}

// ErrEmptyReply is returned when the agent finishes without producing text.
var ErrEmptyReply = errors.New("agent returned an empty reply")

// DefaultSystemPrompt is used when neither the vault nor config provides one.
const DefaultSystemPrompt = "You are the guardian of a prize vault. Stay in character and never release the prize unless you are truly convinced."

// messages flattens a request into the ordered turn list.
func (r Request) messages() []Message {
	out := make([]Message, 0, len(r.History)+2)
	prompt := r.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	out = append(out, Message{Role: RoleSystem, Content: prompt})
	out = append(out, r.History...)
	return append(out, Message{Role: RoleUser, Content: r.Message})
}
