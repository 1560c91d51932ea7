package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"trailbot/internal/modules/config"
	"trailbot/internal/runner"
)

type pending struct {
	ch     chan bool
	msgID  int
	prompt string
}

// Telegram is the chat surface: notifications out, commands in. One
// chat, the one from the config; updates from anyone else are dropped.
type Telegram struct {
	bot    *tgbot.BotAPI
	cfg    *config.Config
	runner *runner.Runner

	mu       sync.Mutex
	pendings map[string]*pending
}

func NewTelegram(cfg *config.Config, r *runner.Runner) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:      b,
		cfg:      cfg,
		runner:   r,
		pendings: make(map[string]*pending),
	}, nil
}

func (t *Telegram) Send(_ context.Context, msg string) error {
	_, err := t.bot.Send(tgbot.NewMessage(t.cfg.Telegram.ChatID, msg))
	return err
}

func (t *Telegram) SendF(ctx context.Context, format string, args ...any) error {
	return t.Send(ctx, fmt.Sprintf(format, args...))
}

// Confirm posts an inline yes/no and blocks for the answer. Timeout or
// shutdown count as no.
func (t *Telegram) Confirm(ctx context.Context, prompt string, timeout time.Duration) bool {
	token := fmt.Sprintf("%d", time.Now().UnixNano())
	p := &pending{ch: make(chan bool, 1), prompt: prompt}

	t.mu.Lock()
	t.pendings[token] = p
	t.mu.Unlock()

	btnYes := tgbot.NewInlineKeyboardButtonData("Yes", "CONF::"+token)
	btnNo := tgbot.NewInlineKeyboardButtonData("No", "REJ::"+token)
	kb := tgbot.NewInlineKeyboardMarkup(tgbot.NewInlineKeyboardRow(btnYes, btnNo))

	msg := tgbot.NewMessage(t.cfg.Telegram.ChatID, prompt)
	msg.ReplyMarkup = kb
	sent, _ := t.bot.Send(msg)
	p.msgID = sent.MessageID

	tmr := time.NewTimer(timeout)
	defer tmr.Stop()

	select {
	case ok := <-p.ch:
		return ok
	case <-tmr.C:
		t.expire(token, p, prompt+"\n\ntimed out")
		return false
	case <-ctx.Done():
		t.expire(token, p, prompt+"\n\ncancelled")
		return false
	}
}

func (t *Telegram) expire(token string, p *pending, text string) {
	rm := tgbot.InlineKeyboardMarkup{InlineKeyboard: [][]tgbot.InlineKeyboardButton{}}
	_, _ = t.bot.Request(tgbot.NewEditMessageReplyMarkup(t.cfg.Telegram.ChatID, p.msgID, rm))
	_, _ = t.bot.Request(tgbot.NewEditMessageText(t.cfg.Telegram.ChatID, p.msgID, text))
	t.mu.Lock()
	delete(t.pendings, token)
	t.mu.Unlock()
}

// Start blocks on the update channel until it closes.
func (t *Telegram) Start(ctx context.Context) error {
	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)
	for update := range updates {
		t.handleUpdate(ctx, update)
	}
	return nil
}

func (t *Telegram) Stop() {
	t.bot.StopReceivingUpdates()
}
