// Package notify sends operator alerts to Telegram chats.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"easytrip/internal/events"
	"easytrip/internal/metrics"
)

// TelegramSender is the part of *tgbotapi.BotAPI the notifier uses.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// RetryConfig holds configuration for retry logic.
type RetryConfig struct {
	MaxRetries  int
	RetryDelays []time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		RetryDelays: []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
	}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	if len(c.RetryDelays) == 0 {
		return time.Second
	}
	if attempt >= len(c.RetryDelays) {
		return c.RetryDelays[len(c.RetryDelays)-1]
	}
	return c.RetryDelays[attempt]
}

type Config struct {
	ChatIDs []int64
	// PerSecond and Burst bound outgoing messages across all chats.
	PerSecond float64
	Burst     int
	QueueSize int
	Retry     RetryConfig
}

// Notifier queues alerts and delivers them from a single worker.
type Notifier struct {
	sender  TelegramSender
	chatIDs []int64
	limiter *rate.Limiter
	retry   RetryConfig
	queue   chan string
	logger  *zerolog.Logger
}

func New(sender TelegramSender, cfg Config, logger *zerolog.Logger) *Notifier {
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Retry.MaxRetries == 0 && len(cfg.Retry.RetryDelays) == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	return &Notifier{
		sender:  sender,
		chatIDs: cfg.ChatIDs,
		limiter: rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.Burst),
		retry:   cfg.Retry,
		queue:   make(chan string, cfg.QueueSize),
		logger:  logger,
	}
}

// Subscribe routes journey events on bus to the operator chats.
func (n *Notifier) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.JourneyStatusChanged, func(e events.Event) error {
		var sc events.StatusChange
		if err := e.Decode(&sc); err != nil {
			return err
		}
		n.Enqueue(FormatStatusChange(sc))
		return nil
	})
	bus.Subscribe(events.SeatsReleased, func(e events.Event) error {
		var sr events.SeatRelease
		if err := e.Decode(&sr); err != nil {
			return err
		}
		n.Enqueue(FormatSeatRelease(sr))
		return nil
	})
}

// Enqueue schedules text for delivery. It never blocks; when the queue is
// full the message is dropped.
func (n *Notifier) Enqueue(text string) bool {
	select {
	case n.queue <- text:
		return true
	default:
		metrics.IncNotification("dropped")
		n.logger.Warn().Msg("Notification queue full, dropping message")
		return false
	}
}

// Run delivers queued messages until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-n.queue:
			for _, chatID := range n.chatIDs {
				if err := n.SendWithRetry(ctx, chatID, text); err != nil {
					n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Operator notification failed")
				}
			}
		}
	}
}

// SendWithRetry sends text to chatID, honouring the rate limit and
// Telegram's retry hints.
func (n *Notifier) SendWithRetry(ctx context.Context, chatID int64, text string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.retry.MaxRetries; attempt++ {
		_, err := n.sender.Send(tgbotapi.NewMessage(chatID, text))
		if err == nil {
			metrics.IncNotification("sent")
			return nil
		}
		lastErr = err

		wait := n.retry.delay(attempt)
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) {
			switch tgErr.Code {
			case 429:
				if tgErr.RetryAfter > 0 {
					wait = time.Duration(tgErr.RetryAfter) * time.Second
				}
				n.logger.Info().Dur("retry_after", wait).Int("attempt", attempt).Msg("Rate limited by Telegram, waiting")
			case 403:
				metrics.IncNotification("blocked")
				return fmt.Errorf("chat %d blocked the bot: %w", chatID, err)
			case 400:
				metrics.IncNotification("bad_request")
				return fmt.Errorf("bad request to telegram: %w", err)
			}
		}

		if attempt == n.retry.MaxRetries {
			break
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	metrics.IncNotification("failed")
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func FormatStatusChange(sc events.StatusChange) string {
	text := fmt.Sprintf("Bus %s (journey #%d): %s -> %s", sc.BusID, sc.JourneyID, sc.From, sc.To)
	if sc.Message != "" {
		text += "\n" + sc.Message
	}
	return text
}

func FormatSeatRelease(sr events.SeatRelease) string {
	return fmt.Sprintf("Bus %s (journey #%d): seats released for the next journey at %s",
		sr.BusID, sr.JourneyID, sr.At.Format("2006-01-02 15:04"))
}
