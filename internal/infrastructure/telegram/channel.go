package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"FeedNotifier/internal/config"
	"FeedNotifier/internal/domain"
	"FeedNotifier/internal/logging"
	"FeedNotifier/internal/ports"
)

// Channel delivers notifications through the Telegram Bot API.
type Channel struct {
	bot       *tele.Bot
	limiter   *rate.Limiter
	parseMode tele.ParseMode
	logger    *slog.Logger
}

var _ ports.DeliveryChannel = (*Channel)(nil)

// NewChannel builds a send-only bot; it performs no network calls until the first Send.
func NewChannel(cfg config.TelegramConfig, log *slog.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("telegram bot token is empty")
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.BotToken,
		URL:     strings.TrimRight(cfg.APIURL, "/"),
		Offline: true,
		Client:  &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("new bot: %w", err)
	}

	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 25
	}
	mode := tele.ParseMode(cfg.ParseMode)
	if mode == "" {
		mode = tele.ModeHTML
	}

	return &Channel{
		bot:       bot,
		limiter:   rate.NewLimiter(rate.Limit(rps), rps),
		parseMode: mode,
		logger:    logging.OrDiscard(log),
	}, nil
}

// Send posts one message to the chat identified by address. Failures are
// returned as *domain.DeliveryError with Permanent set for unreachable chats.
func (c *Channel) Send(ctx context.Context, address string, n domain.Notification) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(address), 10, 64)
	if err != nil {
		return &domain.DeliveryError{Err: fmt.Errorf("invalid chat address %q: %w", address, err)}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return &domain.DeliveryError{Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	text := FormatMessage(n, c.parseMode)
	_, err = c.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
		ParseMode:             c.parseMode,
		DisableWebPagePreview: true,
	})
	if err != nil {
		permanent := domain.IsPermanentMessage(err.Error())
		c.logger.Debug("telegram send failed", "chat_id", chatID, "permanent", permanent, "error", err)
		return &domain.DeliveryError{Permanent: permanent, Err: err}
	}
	return nil
}
