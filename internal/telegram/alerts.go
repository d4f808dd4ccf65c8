package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"vibe-planner/internal/generator"
	"vibe-planner/internal/shared"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DefaultPromptTokenLimit is the prompt size above which the admin is told
// about context bloat.
const DefaultPromptTokenLimit = 4000

// AlertingRecorder records generator usage and alerts the admin chat when a
// prompt grows past the limit.
type AlertingRecorder struct {
	next    generator.UsageRecorder
	api     Sender
	adminID int64
	limit   int
	logger  *slog.Logger
}

func NewAlertingRecorder(next generator.UsageRecorder, api Sender, adminID int64, limit int, logger *slog.Logger) *AlertingRecorder {
	if limit <= 0 {
		limit = DefaultPromptTokenLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertingRecorder{next: next, api: api, adminID: adminID, limit: limit, logger: logger}
}

func (a *AlertingRecorder) RecordMeta(ctx context.Context, meta shared.CallMeta) error {
	var err error
	if a.next != nil {
		err = a.next.RecordMeta(ctx, meta)
	}
	if meta.Usage.PromptTokens > a.limit && a.adminID != 0 && a.api != nil {
		text := fmt.Sprintf("⚠️ <b>Context Bloat Alert</b>\nOperation: %s\nModel: %s\nPrompt Tokens: %d",
			meta.Operation, meta.Usage.Model, meta.Usage.PromptTokens)
		msg := tgbotapi.NewMessage(a.adminID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		if _, sendErr := a.api.Send(msg); sendErr != nil {
			a.logger.WarnContext(ctx, "failed to send admin alert", "error", sendErr)
		}
	}
	return err
}
