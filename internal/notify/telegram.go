// Package notify announces terminal action outcomes to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/himera-lend/internal/domain"
)

// Sender is the part of telebot.Bot the notifier needs.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

var explorerURLs = map[domain.Network]string{
	domain.NetworkEthereum: "https://etherscan.io/tx/",
	domain.NetworkPolygon:  "https://polygonscan.com/tx/",
	domain.NetworkBase:     "https://basescan.org/tx/",
}

// Telegram posts one message per action outcome.
type Telegram struct {
	sender    Sender
	chat      *telebot.Chat
	log       *slog.Logger
	explorers map[domain.Network]string
}

// TelegramOptions configures NewTelegramBot.
type TelegramOptions struct {
	Token   string
	ChatID  int64
	APIURL  string
	Timeout time.Duration
}

// NewTelegramBot creates an offline telebot instance that only sends. No
// updates are polled.
func NewTelegramBot(opts TelegramOptions) (*telebot.Bot, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	bot, err := telebot.NewBot(telebot.Settings{
		URL:     opts.APIURL,
		Token:   opts.Token,
		Offline: true,
		Client:  &http.Client{Timeout: opts.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}
	return bot, nil
}

// NewTelegram sends to chatID through sender.
func NewTelegram(sender Sender, chatID int64, log *slog.Logger) *Telegram {
	if log == nil {
		log = slog.Default()
	}

	return &Telegram{
		sender:    sender,
		chat:      &telebot.Chat{ID: chatID},
		log:       log,
		explorers: explorerURLs,
	}
}

// Notify sends outcome to the chat.
func (t *Telegram) Notify(ctx context.Context, outcome domain.ActionOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := t.sender.Send(t.chat, t.format(outcome), telebot.ModeHTML, telebot.NoPreview); err != nil {
		t.log.Warn("telegram notification failed",
			slog.String("action", string(outcome.Action)),
			slog.String("status", outcome.Status),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("send telegram notification: %w", err)
	}
	return nil
}

func (t *Telegram) format(outcome domain.ActionOutcome) string {
	var b strings.Builder

	subject := strings.TrimSpace(outcome.Amount + " " + outcome.Symbol)
	if outcome.Status == domain.OutcomeSuccess {
		fmt.Fprintf(&b, "✅ <b>%s</b> %s on %s", html.EscapeString(string(outcome.Action)), html.EscapeString(subject), html.EscapeString(outcome.Network.String()))
	} else {
		fmt.Fprintf(&b, "❌ <b>%s</b> %s on %s failed", html.EscapeString(string(outcome.Action)), html.EscapeString(subject), html.EscapeString(outcome.Network.String()))
	}

	if outcome.User != "" {
		fmt.Fprintf(&b, "\nUser: <code>%s</code>", html.EscapeString(outcome.User))
	}
	if outcome.Hash != "" {
		if base, ok := t.explorers[outcome.Network]; ok {
			fmt.Fprintf(&b, "\nTx: <a href=\"%s%s\">%s</a>", base, html.EscapeString(outcome.Hash), html.EscapeString(shortHash(outcome.Hash)))
		} else {
			fmt.Fprintf(&b, "\nTx: <code>%s</code>", html.EscapeString(outcome.Hash))
		}
	}
	if outcome.BlockNumber > 0 {
		fmt.Fprintf(&b, "\nBlock: %d", outcome.BlockNumber)
	}
	if outcome.ErrorMessage != "" {
		fmt.Fprintf(&b, "\nReason: %s", html.EscapeString(outcome.ErrorMessage))
	}

	return b.String()
}

func shortHash(hash string) string {
	if len(hash) <= 14 {
		return hash
	}
	return hash[:8] + "…" + hash[len(hash)-6:]
}
