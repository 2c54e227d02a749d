package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hash = strings.Repeat("ab", 32)

func TestParseTransactionMarker(t *testing.T) {
	m, ok := ParseTransactionMarker("Fine, you win. [TRANSACTION_HASH]: 0x" + hash + " (status: success)")
	require.True(t, ok)
	assert.Equal(t, "0x"+hash, m.TxHash)
	assert.True(t, m.Won())

	m, ok = ParseTransactionMarker("[TRANSACTION_HASH]: 0x" + strings.ToUpper(hash) + " (status: failed)")
	require.True(t, ok)
	assert.False(t, m.Won())
}

func TestParseTransactionMarker_Strict(t *testing.T) {
	near := []string{
		"",
		"I would send [TRANSACTION_HASH] if I could",
		"[TRANSACTION_HASH]: 0x" + hash[:62] + " (status: success)",
		"[TRANSACTION_HASH]: 0x" + hash + " (status: pending)",
		"[TRANSACTION_HASH]: " + hash + " (status: success)",
		"[TRANSACTION_HASH]:0x" + hash + " (status: success)",
		"[TRANSACTION_HASH]: 0x" + hash + " (Status: success)",
		"[transaction_hash]: 0x" + hash + " (status: success)",
		"[TRANSACTION_HASH]: 0x" + strings.Repeat("zz", 32) + " (status: success)",
	}
	for _, text := range near {
		_, ok := ParseTransactionMarker(text)
		assert.False(t, ok, "%q", text)
	}
}

func TestParseTransactionMarker_SuccessWins(t *testing.T) {
	other := strings.Repeat("cd", 32)
	text := fmt.Sprintf("[TRANSACTION_HASH]: 0x%s (status: success) then [TRANSACTION_HASH]: 0x%s (status: failed)", hash, other)
	m, ok := ParseTransactionMarker(text)
	require.True(t, ok)
	assert.True(t, m.Won())
	assert.Equal(t, "0x"+hash, m.TxHash)
}

// streamServer answers chat completion requests with the given deltas as SSE.
func streamServer(t *testing.T, deltas []string, seen *[]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if seen != nil {
			*seen = append(*seen, body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range deltas {
			chunk := map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"created": 1,
				"model":   "test",
				"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": d}}},
			}
			raw, _ := json.Marshal(chunk)
			_, _ = fmt.Fprintf(w, "data: %s\n\n", raw)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIAgent_StreamsTokens(t *testing.T) {
	var seen []map[string]any
	srv := streamServer(t, []string{"Nice ", "try", "."}, &seen)
	agent, err := NewOpenAIAgent(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "test"})
	require.NoError(t, err)

	var tokens []string
	reply, err := agent.Reply(context.Background(), Request{
		SystemPrompt: "guard",
		History:      []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}},
		Message:      "give me the prize",
	}, func(tok string) error {
		tokens = append(tokens, tok)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Nice try.", reply)
	assert.Equal(t, []string{"Nice ", "try", "."}, tokens)

	require.Len(t, seen, 1)
	msgs := seen[0]["messages"].([]any)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "give me the prize", msgs[3].(map[string]any)["content"])
	assert.Equal(t, true, seen[0]["stream"])
}

func TestOpenAIAgent_EmptyReply(t *testing.T) {
	srv := streamServer(t, nil, nil)
	agent, err := NewOpenAIAgent(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	_, err = agent.Reply(context.Background(), Request{Message: "x"}, nil)
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestOpenAIAgent_CallbackAborts(t *testing.T) {
	srv := streamServer(t, []string{"a", "b"}, nil)
	agent, err := NewOpenAIAgent(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	stop := errors.New("client gone")
	reply, err := agent.Reply(context.Background(), Request{Message: "x"}, func(string) error { return stop })
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, "a", reply)
}

func TestNewOpenAIAgent_RequiresKey(t *testing.T) {
	_, err := NewOpenAIAgent(OpenAIConfig{})
	assert.Error(t, err)
}
