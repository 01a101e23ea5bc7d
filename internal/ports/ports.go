package ports

import (
	"context"

	"FeedNotifier/internal/domain"
)

// FeedFetcher retrieves the raw feed document from the upstream source.
type FeedFetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// PostSource yields freshly parsed posts in document order.
type PostSource interface {
	FetchPosts(ctx context.Context) ([]domain.Post, error)
}

// PostStore persists posts and tracks whether fan-out has run for them.
type PostStore interface {
	UpsertNew(ctx context.Context, posts []domain.Post) (int, error)
	Unmatched(ctx context.Context, limit int) ([]domain.Post, error)
	MarkMatched(ctx context.Context, sourceID string) error
}

// SubscriberRegistry exposes active subscribers and lets the core deactivate them.
type SubscriberRegistry interface {
	ActiveSubscribers(ctx context.Context) ([]domain.SubscriberFilters, error)
	Deactivate(ctx context.Context, subscriberID int64) error
}

// ObligationLedger is the sole writer of delivery obligations.
type ObligationLedger interface {
	CreateObligation(ctx context.Context, o domain.Obligation) (bool, error)
	Pending(ctx context.Context, limit int) ([]domain.Delivery, error)
	MarkSent(ctx context.Context, key domain.ObligationKey) error
	MarkFailed(ctx context.Context, key domain.ObligationKey, detail string) error
}

// DeliveryChannel sends one notification to one address.
type DeliveryChannel interface {
	Send(ctx context.Context, address string, n domain.Notification) error
}

// Scheduler controls when jobs execute.
type Scheduler interface {
	Schedule(name, spec string, job func(ctx context.Context)) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
