package service

import (
	"context"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"trailbot/pkg/logger"
)

func (t *Telegram) handleUpdate(ctx context.Context, update tgbot.Update) {
	if update.CallbackQuery != nil {
		t.handleCallback(update.CallbackQuery)
		return
	}
	if update.Message == nil {
		return
	}
	if update.Message.Chat.ID != t.cfg.Telegram.ChatID {
		return
	}

	cmd := strings.TrimSpace(update.Message.Text)
	switch {
	case cmd == "/status":
		_ = t.Send(ctx, t.runner.Status())

	case cmd == "/balances":
		body, err := t.runner.FormattedBalances(ctx)
		if err != nil {
			_ = t.SendF(ctx, "balances error: %v", err)
			return
		}
		_ = t.Send(ctx, body)

	case cmd == "/orders":
		body, err := t.runner.FormattedOpenOrders(ctx)
		if err != nil {
			_ = t.SendF(ctx, "orders error: %v", err)
			return
		}
		_ = t.Send(ctx, body)

	case cmd == "/trades":
		body, err := t.runner.FormattedTrades(ctx, 10)
		if err != nil {
			_ = t.SendF(ctx, "trades error: %v", err)
			return
		}
		_ = t.Send(ctx, body)

	case cmd == "/stop":
		_ = t.Send(ctx, "stopping the loops, open orders stay on the book")
		if err := t.runner.Stop(ctx); err != nil {
			logger.Error("stop via telegram: %v", err)
		}

	case strings.HasPrefix(cmd, "/"):
		_ = t.Send(ctx, "commands: /status /balances /orders /trades /stop")
	}
}

func (t *Telegram) handleCallback(cb *tgbot.CallbackQuery) {
	_, _ = t.bot.Request(tgbot.NewCallback(cb.ID, ""))

	data := cb.Data
	var answer bool
	var token string
	switch {
	case strings.HasPrefix(data, "CONF::"):
		answer, token = true, strings.TrimPrefix(data, "CONF::")
	case strings.HasPrefix(data, "REJ::"):
		answer, token = false, strings.TrimPrefix(data, "REJ::")
	default:
		return
	}

	t.mu.Lock()
	p, ok := t.pendings[token]
	if ok {
		delete(t.pendings, token)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	rm := tgbot.InlineKeyboardMarkup{InlineKeyboard: [][]tgbot.InlineKeyboardButton{}}
	_, _ = t.bot.Request(tgbot.NewEditMessageReplyMarkup(cb.Message.Chat.ID, p.msgID, rm))

	select {
	case p.ch <- answer:
	default:
	}
}
