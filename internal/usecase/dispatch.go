package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"FeedNotifier/internal/domain"
	"FeedNotifier/internal/logging"
	"FeedNotifier/internal/ports"
)

// DefaultPendingLimit caps how many obligations one dispatch run drains.
const DefaultPendingLimit = 100

// ErrSubscriberInactive is recorded for obligations whose subscriber was deactivated before delivery.
var ErrSubscriberInactive = errors.New("subscriber inactive")

// DeliveredDetailPrefix starts the error detail of an obligation whose message
// was delivered but whose sent status could not be recorded.
const DeliveredDetailPrefix = "delivered; "

// DispatcherDeps wires the driven adapters used by dispatch.
type DispatcherDeps struct {
	Ledger       ports.ObligationLedger
	Registry     ports.SubscriberRegistry
	Channel      ports.DeliveryChannel
	PendingLimit int
	Logger       *slog.Logger
}

// Dispatcher drains pending obligations through the delivery channel.
type Dispatcher struct {
	ledger   ports.ObligationLedger
	registry ports.SubscriberRegistry
	channel  ports.DeliveryChannel
	limit    int
	logger   *slog.Logger
}

// NewDispatcher constructs the dispatch use case.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	limit := deps.PendingLimit
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	return &Dispatcher{
		ledger:   deps.Ledger,
		registry: deps.Registry,
		channel:  deps.Channel,
		limit:    limit,
		logger:   logging.OrDiscard(deps.Logger),
	}
}

// Run sends each pending obligation once and records a terminal status for it.
// Send failures are never retried. Recipients that permanently reject delivery
// are deactivated. Obligations of subscribers that are already inactive, or
// were deactivated earlier in the same run, are marked failed with
// ErrSubscriberInactive without calling the channel, so Attempted can exceed
// the number of channel calls.
func (d *Dispatcher) Run(ctx context.Context) (domain.DispatchStats, error) {
	var stats domain.DispatchStats

	pending, err := d.ledger.Pending(ctx, d.limit)
	if err != nil {
		return stats, fmt.Errorf("%w: load pending obligations: %v", domain.ErrStoreUnavailable, err)
	}

	inactive := map[int64]bool{}
	for _, del := range pending {
		if ctx.Err() != nil {
			d.logger.Warn("dispatch interrupted", "remaining", len(pending)-stats.Attempted, "error", ctx.Err())
			break
		}
		stats.Attempted++
		d.dispatchOne(ctx, del, inactive, &stats)
	}

	d.logger.Info("dispatch finished",
		"attempted", stats.Attempted,
		"sent", stats.Sent,
		"failed", stats.Failed,
		"deactivated", stats.Deactivated,
		"errors", stats.Errors,
	)
	return stats, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, del domain.Delivery, inactive map[int64]bool, stats *domain.DispatchStats) {
	key := del.Obligation.Key
	log := d.logger.With("subscriber", key.SubscriberID, "post", key.PostID, "filter", key.FilterID)

	var sendErr error
	if !del.Subscriber.Active || inactive[key.SubscriberID] {
		sendErr = ErrSubscriberInactive
	} else {
		sendErr = d.send(ctx, del)
	}

	if sendErr == nil {
		stats.Sent++
		if err := d.markSent(ctx, key); err != nil {
			stats.Errors++
			log.Warn("mark sent failed after delivery", "error", err)
			// The row must leave pending or the next run would resend it.
			if err := d.ledger.MarkFailed(ctx, key, DeliveredDetailPrefix+"mark sent failed: "+err.Error()); err != nil {
				stats.Errors++
				log.Warn("record delivered obligation failed", "error", err)
			}
			return
		}
		log.Debug("obligation sent")
		return
	}

	d.fail(ctx, log, key, sendErr, stats)

	if isPermanent(sendErr) && !inactive[key.SubscriberID] {
		inactive[key.SubscriberID] = true
		if err := d.registry.Deactivate(ctx, key.SubscriberID); err != nil {
			stats.Errors++
			log.Warn("deactivate subscriber failed", "error", err)
			return
		}
		stats.Deactivated++
		log.Info("subscriber deactivated", "reason", sendErr.Error())
	}
}

func (d *Dispatcher) fail(ctx context.Context, log *slog.Logger, key domain.ObligationKey, cause error, stats *domain.DispatchStats) {
	stats.Failed++
	if err := d.ledger.MarkFailed(ctx, key, cause.Error()); err != nil {
		stats.Errors++
		log.Warn("mark failed failed", "cause", cause, "error", err)
		return
	}
	log.Debug("obligation failed", "error", cause)
}

// markSent retries the ledger write once; a delivered message is never resent.
func (d *Dispatcher) markSent(ctx context.Context, key domain.ObligationKey) error {
	err := d.ledger.MarkSent(ctx, key)
	if err == nil {
		return nil
	}
	if retryErr := d.ledger.MarkSent(ctx, key); retryErr == nil {
		return nil
	}
	return err
}

// send isolates a single channel call, converting a panic into an error.
func (d *Dispatcher) send(ctx context.Context, del domain.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery panicked: %v", r)
		}
	}()
	return d.channel.Send(ctx, del.Obligation.ChannelAddress, domain.NewNotification(del))
}

func isPermanent(err error) bool {
	if errors.Is(err, ErrSubscriberInactive) {
		return false
	}
	return domain.IsPermanent(err) || domain.IsPermanentMessage(err.Error())
}
