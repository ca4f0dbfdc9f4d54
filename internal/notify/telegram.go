// Package notify pushes completed analyses to external channels. The Telegram
// notifier also accepts remote allow/block commands via inline buttons, which
// it forwards to the action performer.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/EasonC13-shadow/LuLuAICompanion/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3

	callbackAllow = "act_allow"
	callbackBlock = "act_block"
)

// Telegram delivers analysis results to a configured chat.
type Telegram struct {
	token     string
	chatID    int64
	allowFrom []int64
	parseMode string
	performer domain.ActionPerformer
	logger    *slog.Logger

	bot botAPI
}

// botAPI is the slice of tgbotapi.BotAPI used here, split out so tests can
// substitute a recorder.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// TelegramConfig configures a Telegram notifier.
type TelegramConfig struct {
	Token     string
	ChatID    string
	AllowFrom []string
	ParseMode string
	Performer domain.ActionPerformer
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(cfg.ChatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat ID %q: %w", cfg.ChatID, err)
	}
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		chatID:    chatID,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		performer: cfg.Performer,
		logger:    cfg.Logger,
	}, nil
}

// Start connects the bot and polls for button callbacks until ctx is done.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.CallbackQuery != nil {
				t.handleCallback(ctx, update.CallbackQuery)
			}
		}
	}
}

// NotifyAnalysis sends one formatted analysis. When an action performer is
// wired, allow/block buttons are attached.
func (t *Telegram) NotifyAnalysis(ctx context.Context, analysis *domain.AIAnalysis) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not started")
	}
	text := formatAnalysis(analysis)

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = t.parseMode
	if t.performer != nil {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Allow", callbackAllow),
				tgbotapi.NewInlineKeyboardButtonData("Block", callbackBlock),
			),
		)
	}

	if _, err := t.bot.Send(msg); err != nil {
		// Markdown parse failures fall back to plain text, matching the
		// chunked sender below.
		t.sendText(text)
	}
	return nil
}

func formatAnalysis(a *domain.AIAnalysis) string {
	var b strings.Builder
	switch a.Recommendation {
	case domain.RecommendAllow:
		b.WriteString("🟢 *ALLOW*")
	case domain.RecommendBlock:
		b.WriteString("🔴 *BLOCK*")
	case domain.RecommendCaution:
		b.WriteString("🟡 *CAUTION*")
	default:
		b.WriteString("⚪ *UNKNOWN*")
	}
	fmt.Fprintf(&b, " (%.0f%% confidence)\n\n", a.Confidence*100)

	if alert := a.SourceAlert; alert != nil {
		fmt.Fprintf(&b, "Process: `%s`\n", alert.ProcessName)
		if alert.IPAddress != "" {
			fmt.Fprintf(&b, "Destination: `%s:%s` (%s)\n", alert.IPAddress, alert.Port, alert.Protocol)
		}
		if alert.ReverseDNS != "" {
			fmt.Fprintf(&b, "Host: `%s`\n", alert.ReverseDNS)
		}
		if alert.GeoLocation != "" {
			fmt.Fprintf(&b, "Location: %s\n", alert.GeoLocation)
		}
		b.WriteString("\n")
	}

	b.WriteString(a.Summary)
	if len(a.Risks) > 0 {
		b.WriteString("\n\nRisks:\n")
		for _, r := range a.Risks {
			fmt.Fprintf(&b, "• %s\n", r)
		}
	}
	if a.Provider != "" {
		fmt.Fprintf(&b, "\n_%s / %s_", a.Provider, a.Model)
	}
	return b.String()
}

func (t *Telegram) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil || !t.isAllowed(cq.From.ID) {
		t.logger.Warn("unauthorized telegram callback", "user_id", userID(cq))
		return
	}

	ack := tgbotapi.NewCallback(cq.ID, "")
	_, _ = t.bot.Request(ack)

	if t.performer == nil {
		return
	}

	var kind domain.ActionKind
	switch cq.Data {
	case callbackAllow:
		kind = domain.ActionAllow
	case callbackBlock:
		kind = domain.ActionBlock
	default:
		return
	}

	clicked, err := t.performer.PerformAction(ctx, kind, domain.DurationProcessLifetime)
	if err != nil {
		t.logger.Error("remote action failed", "action", kind, "error", err)
		t.sendText(fmt.Sprintf("Action %s failed: %v", kind, err))
		return
	}
	if !clicked {
		t.sendText(fmt.Sprintf("No alert window to %s; it may have been dismissed.", kind))
		return
	}
	t.sendText(fmt.Sprintf("Done: %s.", kind))

	// Clear the buttons so the action cannot be repeated from a stale message.
	if cq.Message != nil {
		edit := tgbotapi.NewEditMessageReplyMarkup(t.chatID, cq.Message.MessageID,
			tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
		_, _ = t.bot.Send(edit)
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func userID(cq *tgbotapi.CallbackQuery) int64 {
	if cq.From == nil {
		return 0
	}
	return cq.From.ID
}

// sendText delivers plain text in chunks under the Telegram message limit,
// with backoff on rate limits.
func (t *Telegram) sendText(text string) {
	for len(text) > 0 {
		chunk := text
		if len(chunk) > telegramMaxMsgLen {
			cutAt := strings.LastIndex(chunk[:telegramMaxMsgLen], "\n")
			if cutAt < telegramMaxMsgLen/2 {
				cutAt = telegramMaxMsgLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}
		t.sendChunk(chunk)
	}
}

func (t *Telegram) sendChunk(text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(t.chatID, text)
		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", retryAfter)
			time.Sleep(retryAfter)
			continue
		}
		if attempt < telegramMaxSendRetries {
			time.Sleep(time.Duration(attempt+1) * time.Second)
			continue
		}
		t.logger.Error("telegram send failed after retries", "err", err)
	}
}
