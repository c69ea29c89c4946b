package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kirillm/signal-executor/internal/domain"
	"github.com/kirillm/signal-executor/internal/execution"
	"github.com/kirillm/signal-executor/internal/risk"
	"github.com/kirillm/signal-executor/pkg/utils"
)

// SignalHandler принимает сырое сообщение канала
type SignalHandler interface {
	Handle(ctx context.Context, payload []byte, sender string, senderID int64) error
}

// AccountViewer открытые позиции для операторских команд
type AccountViewer interface {
	GetOpenPositions(ctx context.Context) ([]domain.Position, error)
}

// HistoryViewer журналы сделок и сигналов для операторских команд.
// Пустой symbol означает сделки по всем инструментам.
type HistoryViewer interface {
	RecentTrades(symbol string, limit int) ([]domain.TradeRecord, error)
	RecentSignals(limit int) ([]domain.SignalRecord, error)
}

// Bot слушает сигнальные чаты и операторские команды. Сообщения из
// чатов вне allowlist игнорируются.
type Bot struct {
	api     *tgbotapi.BotAPI
	allowed map[int64]bool
	ownerID int64
	handler SignalHandler
	kill    *execution.KillSwitch
	gate    *risk.Gate
	account AccountViewer
	history HistoryViewer
	logger  *utils.Logger
}

func NewBot(token string, chatIDs []int64, ownerID int64, handler SignalHandler, kill *execution.KillSwitch, gate *risk.Gate, account AccountViewer, history HistoryViewer, logger *utils.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	logger.Info("Telegram bot authorized: @%s", api.Self.UserName)

	allowed := make(map[int64]bool, len(chatIDs))
	for _, id := range chatIDs {
		allowed[id] = true
	}

	return &Bot{
		api:     api,
		allowed: allowed,
		ownerID: ownerID,
		handler: handler,
		kill:    kill,
		gate:    gate,
		account: account,
		history: history,
		logger:  logger,
	}, nil
}

// API отдает клиент Bot API для переиспользования в уведомлениях
func (b *Bot) API() *tgbotapi.BotAPI {
	return b.api
}

// Start запускает обработку обновлений до отмены контекста
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			msg := update.Message
			if msg == nil {
				msg = update.ChannelPost
			}
			if msg == nil {
				continue
			}

			if len(b.allowed) > 0 && !b.allowed[msg.Chat.ID] {
				b.logger.Warn("message from unauthorized chat %d ignored", msg.Chat.ID)
				continue
			}

			if msg.IsCommand() {
				go b.handleCommand(ctx, msg)
				continue
			}

			go b.handleSignal(ctx, msg)
		}
	}
}

// handleSignal передает текст сообщения в конвейер обработки
func (b *Bot) handleSignal(ctx context.Context, msg *tgbotapi.Message) {
	sender := msg.Chat.Title
	if sender == "" && msg.From != nil {
		sender = msg.From.UserName
	}

	err := b.handler.Handle(ctx, []byte(msg.Text), sender, msg.Chat.ID)
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrMalformedSignal):
		b.logger.Debug("non-signal message from %s ignored: %v", sender, err)
	case errors.Is(err, domain.ErrDuplicateSignal):
		b.logger.Debug("duplicate signal from %s ignored", sender)
	default:
		b.logger.Error("signal from %s failed: %v", sender, err)
	}
}

// handleCommand исполняет операторскую команду
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "status":
		b.reply(msg, b.statusText())
	case "positions":
		b.reply(msg, b.positionsText(ctx))
	case "trades":
		b.reply(msg, b.tradesText(msg.CommandArguments()))
	case "signals":
		b.reply(msg, b.signalsText())
	case "panic":
		b.handlePanic(msg)
	case "help", "start":
		b.reply(msg, helpText)
	default:
		b.reply(msg, "Unknown command. Use /help.")
	}
}

// handlePanic включает или выключает аварийную остановку торговли.
// Доступна только владельцу.
func (b *Bot) handlePanic(msg *tgbotapi.Message) {
	if b.ownerID != 0 && (msg.From == nil || msg.From.ID != b.ownerID) {
		b.reply(msg, "⛔ Access denied: owner only")
		return
	}

	arg := strings.TrimSpace(msg.CommandArguments())
	switch arg {
	case "on", "":
		b.kill.Activate(fmt.Sprintf("manual panic stop by %d", msg.From.ID))
		b.reply(msg, "🚨 Panic stop ACTIVE. New signals are rejected.")
	case "off":
		b.kill.Deactivate()
		b.reply(msg, "✅ Panic stop released. Trading resumed.")
	default:
		b.reply(msg, "Usage: /panic on|off")
	}
}

func (b *Bot) statusText() string {
	active, reason, at := b.kill.GetStatus()
	snap := b.gate.Snapshot()
	return FormatStatus(active, reason, at, b.gate.Policy(), snap)
}

func (b *Bot) positionsText(ctx context.Context) string {
	positions, err := b.account.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Sprintf("Failed to fetch positions: %v", err)
	}
	return FormatPositions(positions)
}

func (b *Bot) tradesText(symbol string) string {
	trades, err := b.history.RecentTrades(strings.ToUpper(strings.TrimSpace(symbol)), historyLimit)
	if err != nil {
		return fmt.Sprintf("Failed to fetch trades: %v", err)
	}
	return FormatTrades(trades)
}

func (b *Bot) signalsText() string {
	records, err := b.history.RecentSignals(historyLimit)
	if err != nil {
		return fmt.Sprintf("Failed to fetch signals: %v", err)
	}
	return FormatSignals(records)
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(out); err != nil {
		b.logger.Error("failed to send reply: %v", err)
	}
}

// historyLimit сколько записей показывают /trades и /signals
const historyLimit = 10

const helpText = `*Signal Executor*

/status - risk limits and panic state
/positions - open positions
/trades [symbol] - recent executed trades
/signals - recent signal audit log
/panic on|off - emergency trading stop (owner only)
/help - this message`
