package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillm/signal-executor/internal/domain"
	"github.com/kirillm/signal-executor/internal/risk"
)

// FormatStatus собирает текст для команды /status
func FormatStatus(panicActive bool, panicReason string, panicAt time.Time, policy *risk.Policy, snap risk.State) string {
	var sb strings.Builder

	if panicActive {
		sb.WriteString("🚨 *PANIC STOP ACTIVE*\n")
		sb.WriteString(fmt.Sprintf("Reason: %s\n", panicReason))
		sb.WriteString(fmt.Sprintf("Since: %s\n\n", panicAt.UTC().Format("2006-01-02 15:04:05")))
	} else {
		sb.WriteString("✅ Trading active\n\n")
	}

	sb.WriteString(fmt.Sprintf("Profile: *%s*\n", policy.ProfileName))
	sb.WriteString(fmt.Sprintf("Open positions: %d/%d\n", snap.OpenPositionCount, policy.MaxOpenPositions))
	sb.WriteString(fmt.Sprintf("Daily loss: $%.2f of $%.2f\n", snap.DailyLossUSD, policy.MaxDailyLossUSD))
	sb.WriteString(fmt.Sprintf("Min confidence: %.2f\n", policy.MinConfidence))
	sb.WriteString(fmt.Sprintf("Max leverage: %dx", policy.MaxLeverage))

	return sb.String()
}

// FormatPositions собирает текст для команды /positions
func FormatPositions(positions []domain.Position) string {
	if len(positions) == 0 {
		return "No open positions"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*Open positions (%d)*\n\n", len(positions)))

	for _, pos := range positions {
		emoji := "🟢"
		dir := "LONG"
		if pos.Side == domain.SideSell {
			emoji = "🔴"
			dir = "SHORT"
		}

		pnlSign := ""
		if pos.UnrealizedPnL > 0 {
			pnlSign = "+"
		}

		sb.WriteString(fmt.Sprintf("%s *%s* %s %dx\n", emoji, pos.Symbol, dir, pos.Leverage))
		sb.WriteString(fmt.Sprintf("  size: %.6f @ %.4f\n", pos.Size, pos.EntryPrice))
		sb.WriteString(fmt.Sprintf("  uPnL: %s%.2f %s\n", pnlSign, pos.UnrealizedPnL, domain.QuoteAsset))
	}

	return sb.String()
}

// FormatTrades собирает текст для команды /trades
func FormatTrades(trades []domain.TradeRecord) string {
	if len(trades) == 0 {
		return "No trades yet"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*Recent trades (%d)*\n\n", len(trades)))

	for _, tr := range trades {
		emoji := "🟢"
		if tr.Side == string(domain.SideSell) {
			emoji = "🔴"
		}

		sb.WriteString(fmt.Sprintf("%s *%s* %s %s %.6f @ %.4f\n",
			emoji, tr.Symbol, tr.Role, tr.Side, tr.Quantity, tr.Price))
		if tr.RealizedPnL != 0 {
			sign := ""
			if tr.RealizedPnL > 0 {
				sign = "+"
			}
			sb.WriteString(fmt.Sprintf("  pnl: %s%.2f %s\n", sign, tr.RealizedPnL, domain.QuoteAsset))
		}
		sb.WriteString(fmt.Sprintf("  %s\n", tr.CreatedAt.UTC().Format("01-02 15:04")))
	}

	return sb.String()
}

// FormatSignals собирает текст для команды /signals
func FormatSignals(records []domain.SignalRecord) string {
	if len(records) == 0 {
		return "No signals yet"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*Recent signals (%d)*\n\n", len(records)))

	for _, rec := range records {
		emoji := "✅"
		if rec.Outcome != domain.OutcomeAccepted {
			emoji = "❌"
		}
		sb.WriteString(fmt.Sprintf("%s %s %s %s conf=%.2f\n  %s\n",
			emoji, rec.Ticker, rec.Direction, rec.TradeType, rec.Confidence, rec.Outcome))
	}

	return sb.String()
}
