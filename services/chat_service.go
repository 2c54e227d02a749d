package services

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"vault-gate/chat"
	"vault-gate/models"
)

const (
	// chatHistoryLimit is how many previous turns the agent sees.
	chatHistoryLimit = 20
	// chatReplyTimeout bounds one streamed agent reply.
	chatReplyTimeout = 2 * time.Minute
)

// SSE event names sent on the chat stream.
const (
	EventToken = "token"
	EventDone  = "done"
	EventWin   = "win"
	EventError = "error"
)

// EmitFunc delivers one stream event to the client.
type EmitFunc func(event string, data any) error

// ChatService runs the paid chat: one credit per message, streamed replies,
// and the vault payout when the agent emits a success marker.
type ChatService struct {
	DB           *gorm.DB
	Agent        chat.Agent
	Log          *zap.Logger
	SystemPrompt string
}

func NewChatService(db *gorm.DB, agent chat.Agent, systemPrompt string, log *zap.Logger) *ChatService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatService{DB: db, Agent: agent, Log: log, SystemPrompt: systemPrompt}
}

// ChatResult summarises one exchange.
type ChatResult struct {
	Reply            string       `json:"reply"`
	CreditsRemaining int64        `json:"creditsRemaining"`
	Marker           *chat.Marker `json:"-"`
	Won              bool         `json:"won"`
	TxHash           string       `json:"txHash,omitempty"`
}

// Begin checks that the vault can still be won and debits one credit from wallet.
func (s *ChatService) Begin(ctx context.Context, vaultID, wallet string) (*models.Vault, error) {
	wallet = models.CanonicalWallet(wallet)
	var vault models.Vault
	if err := s.DB.WithContext(ctx).First(&vault, "id = ?", vaultID).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrVaultNotFound
		}
		return nil, fmt.Errorf("load vault: %w", err)
	}
	if !vault.HasPrize() {
		return nil, ErrVaultDrained
	}

	res := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("wallet_address = ? AND credits > 0", wallet).
		UpdateColumn("credits", gorm.Expr("credits - 1"))
	if res.Error != nil {
		return nil, fmt.Errorf("debit credit: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		chatMessages.WithLabelValues("no_credits").Inc()
		return nil, ErrInsufficientCredits
	}
	return &vault, nil
}

func (s *ChatService) refund(ctx context.Context, wallet string) {
	err := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("wallet_address = ?", wallet).
		UpdateColumn("credits", gorm.Expr("credits + 1")).Error
	if err != nil {
		s.Log.Error("[CHAT] refund failed", zap.String("wallet", wallet), zap.Error(err))
	}
}

func (s *ChatService) history(ctx context.Context, vaultID, wallet string) ([]chat.Message, error) {
	var rows []models.ChatMessage
	err := s.DB.WithContext(ctx).
		Where("vault_id = ? AND wallet_address = ?", vaultID, wallet).
		Order("created_at DESC").
		Limit(chatHistoryLimit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]chat.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		role := chat.RoleUser
		if rows[i].Role == models.ChatRoleAssistant {
			role = chat.RoleAssistant
		}
		out = append(out, chat.Message{Role: role, Content: rows[i].Content})
	}
	return out, nil
}

// Converse runs one exchange after Begin succeeded. If the agent fails
// before producing any text the credit is refunded.
func (s *ChatService) Converse(ctx context.Context, vault *models.Vault, wallet, message string, emit EmitFunc) (ChatResult, error) {
	ctx = context.WithoutCancel(ctx)
	wallet = models.CanonicalWallet(wallet)
	history, err := s.history(ctx, vault.ID, wallet)
	if err != nil {
		s.refund(ctx, wallet)
		return ChatResult{}, fmt.Errorf("load history: %w", err)
	}

	userMsg := models.ChatMessage{VaultID: vault.ID, WalletAddress: wallet, Role: models.ChatRoleUser, Content: message}
	if err := s.DB.WithContext(ctx).Create(&userMsg).Error; err != nil {
		s.refund(ctx, wallet)
		return ChatResult{}, fmt.Errorf("store message: %w", err)
	}

	prompt := vault.AgentPrompt
	if prompt == "" {
		prompt = s.SystemPrompt
	}

	replyCtx, cancel := context.WithTimeout(ctx, chatReplyTimeout)
	defer cancel()
	streamed := 0
	reply, err := s.Agent.Reply(replyCtx, chat.Request{
		VaultID:      vault.ID,
		Wallet:       wallet,
		SystemPrompt: prompt,
		History:      history,
		Message:      message,
	}, func(token string) error {
		streamed++
		return emit(EventToken, fiber.Map{"content": token})
	})
	if err != nil && strings.TrimSpace(reply) == "" {
		s.refund(ctx, wallet)
		chatMessages.WithLabelValues("refunded").Inc()
		s.Log.Warn("[CHAT] agent failed before replying, credit refunded",
			zap.String("vault", vault.ID), zap.String("wallet", wallet), zap.Int("tokens", streamed), zap.Error(err))
		return ChatResult{}, fmt.Errorf("agent reply: %w", err)
	}

	result := ChatResult{Reply: reply}
	assistantMsg := models.ChatMessage{VaultID: vault.ID, WalletAddress: wallet, Role: models.ChatRoleAssistant, Content: reply}
	if m, ok := chat.ParseTransactionMarker(reply); ok {
		result.Marker = &m
		assistantMsg.TxHash = m.TxHash
		if m.Won() {
			if werr := s.drainVault(ctx, vault.ID); werr != nil {
				s.Log.Error("[CHAT] failed to zero vault prize", zap.String("vault", vault.ID), zap.Error(werr))
			}
			result.Won = true
			result.TxHash = m.TxHash
		}
	}
	if serr := s.DB.WithContext(ctx).Create(&assistantMsg).Error; serr != nil {
		s.Log.Error("[CHAT] failed to store reply", zap.String("vault", vault.ID), zap.Error(serr))
	}

	var user models.User
	if uerr := s.DB.WithContext(ctx).First(&user, "wallet_address = ?", wallet).Error; uerr == nil {
		result.CreditsRemaining = user.Credits
	}

	if err != nil {
		// partial reply: the credit stays spent
		chatMessages.WithLabelValues("interrupted").Inc()
		return result, fmt.Errorf("agent reply interrupted: %w", err)
	}

	if result.Won {
		chatMessages.WithLabelValues("won").Inc()
		s.Log.Info("🏆 [CHAT] vault won", zap.String("vault", vault.ID), zap.String("wallet", wallet), zap.String("tx", result.TxHash))
		if err := emit(EventWin, fiber.Map{"txHash": result.TxHash, "vaultId": vault.ID}); err != nil {
			return result, err
		}
	} else {
		chatMessages.WithLabelValues("replied").Inc()
	}
	return result, emit(EventDone, result)
}

// Send is Begin followed by Converse.
func (s *ChatService) Send(ctx context.Context, vaultID, wallet, message string, emit EmitFunc) (ChatResult, error) {
	vault, err := s.Begin(ctx, vaultID, wallet)
	if err != nil {
		return ChatResult{}, err
	}
	return s.Converse(ctx, vault, wallet, message, emit)
}

func (s *ChatService) drainVault(ctx context.Context, vaultID string) error {
	return s.DB.WithContext(ctx).Model(&models.Vault{}).
		Where("id = ?", vaultID).
		UpdateColumns(map[string]any{"available_prize": 0, "total_prize": 0}).Error
}

// --- Handlers ---

// sseWriter formats events onto a fasthttp stream writer.
func sseWriter(w *bufio.Writer) EmitFunc {
	return func(event string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return err
		}
		return w.Flush()
	}
}

// PostMessage handles POST /chat/:vaultId/messages and streams the reply as SSE.
func (s *ChatService) PostMessage(c *fiber.Ctx) error {
	vaultID := c.Params("vaultId")
	var req struct {
		WalletAddress string `json:"walletAddress" validate:"required,max=128"`
		Message       string `json:"message" validate:"required,max=4000"`
	}
	if err := parseBody(c, &req); err != nil {
		return errorJSON(c, err)
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "message is empty"})
	}
	if w := walletFromContext(c); w != "" && !strings.EqualFold(w, req.WalletAddress) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "wallet does not match session"})
	}

	vault, err := s.Begin(c.UserContext(), vaultID, req.WalletAddress)
	switch {
	case errors.Is(err, ErrVaultNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrVaultDrained):
		return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrInsufficientCredits):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		s.Log.Error("[CHAT] begin failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	wallet, message := req.WalletAddress, req.Message
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		emit := sseWriter(w)
		if _, err := s.Converse(context.Background(), vault, wallet, message, emit); err != nil {
			s.Log.Warn("[CHAT] exchange ended with error", zap.String("vault", vault.ID), zap.Error(err))
			_ = emit(EventError, fiber.Map{"error": "agent unavailable"})
		}
	})
	return nil
}

// GetHistory handles GET /chat/:vaultId/messages?wallet=.
func (s *ChatService) GetHistory(c *fiber.Ctx) error {
	wallet := models.CanonicalWallet(c.Query("wallet", walletFromContext(c)))
	if wallet == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "wallet is required"})
	}
	var rows []models.ChatMessage
	if err := s.DB.WithContext(c.UserContext()).
		Where("vault_id = ? AND wallet_address = ?", c.Params("vaultId"), wallet).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch messages"})
	}
	return c.JSON(rows)
}
