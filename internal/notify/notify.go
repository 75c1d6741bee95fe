package notify

import (
	"context"
	"fmt"
	"math"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	appLog "shiftwatch/internal/log"
)

// Notification is one user-visible alert. ID matches the originating alarm
// identity so a delivery channel can correlate clicks/dismissals back to
// the alarm.
type Notification struct {
	ID       string
	Title    string
	Message  string
	Context  string
	Priority int
}

// Notifier delivers a notification to one channel.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the application log. Always
// registered, so reminders are observable even with no external channel
// configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	appLog.Info("notification",
		"id", n.ID,
		"title", n.Title,
		"message", n.Message,
		"context", n.Context,
		"priority", n.Priority,
	)
	return nil
}

// TelegramNotifier delivers notifications as Telegram messages to a fixed
// chat.
type TelegramNotifier struct {
	bot    *tg.BotAPI
	chatID int64
}

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tg.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: telegram init: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

func (t *TelegramNotifier) Notify(_ context.Context, n Notification) error {
	text := n.Title + "\n" + n.Message
	if n.Context != "" {
		text += "\n" + n.Context
	}
	msg := tg.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("notify: telegram send: %w", err)
	}
	return nil
}

// reminderMessage formats the alert body: imminent events get a countdown,
// events whose start already passed (or is passing) read as underway.
func reminderMessage(name string, minutesUntil int) string {
	if minutesUntil > 0 {
		return fmt.Sprintf("%q starts in %d minutes", name, minutesUntil)
	}
	return fmt.Sprintf("%q is starting now", name)
}

func roundMinutes(m float64) int {
	return int(math.Round(m))
}
