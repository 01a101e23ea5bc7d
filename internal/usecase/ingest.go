package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"FeedNotifier/internal/domain"
	"FeedNotifier/internal/logging"
	"FeedNotifier/internal/matcher"
	"FeedNotifier/internal/ports"
)

// DefaultUnmatchedLimit caps how many unmatched posts one ingestion run fans out.
const DefaultUnmatchedLimit = 50

// IngestorDeps wires the driven adapters used by ingestion.
type IngestorDeps struct {
	Source         ports.PostSource
	Posts          ports.PostStore
	Registry       ports.SubscriberRegistry
	Ledger         ports.ObligationLedger
	UnmatchedLimit int
	Logger         *slog.Logger
}

// Ingestor turns feed items into stored posts and delivery obligations.
type Ingestor struct {
	source   ports.PostSource
	posts    ports.PostStore
	registry ports.SubscriberRegistry
	ledger   ports.ObligationLedger
	limit    int
	logger   *slog.Logger
}

// NewIngestor constructs the ingestion use case.
func NewIngestor(deps IngestorDeps) *Ingestor {
	limit := deps.UnmatchedLimit
	if limit <= 0 {
		limit = DefaultUnmatchedLimit
	}
	return &Ingestor{
		source:   deps.Source,
		posts:    deps.Posts,
		registry: deps.Registry,
		ledger:   deps.Ledger,
		limit:    limit,
		logger:   logging.OrDiscard(deps.Logger),
	}
}

// Run fetches the feed, stores new posts, and fans unmatched posts out to
// active subscribers. Only failures that prevent the fan-out loop from
// starting are returned; row-level failures are counted in the stats.
func (i *Ingestor) Run(ctx context.Context) (domain.IngestStats, error) {
	var stats domain.IngestStats

	posts, err := i.source.FetchPosts(ctx)
	stats.Parsed = len(posts)
	switch {
	case errors.Is(err, domain.ErrSourceUnavailable):
		i.logger.Warn("feed unavailable, skipping tick", "error", err)
		return stats, nil
	case err != nil:
		i.logger.Warn("feed parsed with anomalies", "posts", len(posts), "error", err)
	}
	if len(posts) == 0 {
		i.logger.Info("feed produced no posts")
		return stats, nil
	}

	inserted, err := i.posts.UpsertNew(ctx, posts)
	stats.Inserted = inserted
	if err != nil {
		stats.Errors += countErrors(err)
		i.logger.Warn("some posts were not stored", "inserted", inserted, "error", err)
	}

	unmatched, err := i.posts.Unmatched(ctx, i.limit)
	if err != nil {
		return stats, fmt.Errorf("%w: load unmatched posts: %v", domain.ErrStoreUnavailable, err)
	}
	if len(unmatched) == 0 {
		i.logger.Info("ingest finished", "parsed", stats.Parsed, "inserted", stats.Inserted)
		return stats, nil
	}

	subscribers, err := i.registry.ActiveSubscribers(ctx)
	if err != nil {
		return stats, fmt.Errorf("%w: load subscribers: %v", domain.ErrStoreUnavailable, err)
	}

	for _, post := range unmatched {
		created, errs := i.fanOut(ctx, post, subscribers)
		stats.Scanned++
		stats.Obligations += created
		stats.Errors += errs

		if err := i.posts.MarkMatched(ctx, post.SourceID); err != nil {
			stats.Errors++
			i.logger.Warn("mark matched failed", "post", post.SourceID, "error", err)
		}
	}

	i.logger.Info("ingest finished",
		"parsed", stats.Parsed,
		"inserted", stats.Inserted,
		"scanned", stats.Scanned,
		"obligations", stats.Obligations,
		"errors", stats.Errors,
	)
	return stats, nil
}

// fanOut creates at most one obligation per subscriber for post: the first
// matching filter in creation order wins and the rest are not evaluated.
func (i *Ingestor) fanOut(ctx context.Context, post domain.Post, subscribers []domain.SubscriberFilters) (created, failures int) {
	corpus := matcher.Corpus(post)

	for _, sf := range subscribers {
		for _, f := range sf.Filters {
			if !matcher.MatchesCorpus(corpus, f) {
				continue
			}

			ok, err := i.ledger.CreateObligation(ctx, domain.Obligation{
				Key: domain.ObligationKey{
					SubscriberID: sf.Subscriber.ID,
					PostID:       post.SourceID,
					FilterID:     f.ID,
				},
				ChannelAddress: sf.Subscriber.ChannelAddress,
				Status:         domain.StatusPending,
			})
			switch {
			case err != nil:
				failures++
				i.logger.Warn("create obligation failed",
					"post", post.SourceID, "subscriber", sf.Subscriber.ID, "filter", f.ID, "error", err)
			case ok:
				created++
				i.logger.Debug("obligation created", "post", post.SourceID, "subscriber", sf.Subscriber.ID, "filter", f.ID)
			}
			break
		}
	}
	return created, failures
}

func countErrors(err error) int {
	if err == nil {
		return 0
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}
