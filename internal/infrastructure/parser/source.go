package parser

import (
	"context"
	"log/slog"

	"FeedNotifier/internal/domain"
	"FeedNotifier/internal/logging"
	"FeedNotifier/internal/ports"
)

// FeedSource implements PostSource by fetching and parsing the one configured feed.
type FeedSource struct {
	fetcher ports.FeedFetcher
	logger  *slog.Logger
}

var _ ports.PostSource = (*FeedSource)(nil)

// NewFeedSource wires a fetcher with the RSS parser.
func NewFeedSource(fetcher ports.FeedFetcher, log *slog.Logger) *FeedSource {
	return &FeedSource{fetcher: fetcher, logger: logging.OrDiscard(log)}
}

// FetchPosts returns whatever posts could be parsed. A fetch failure yields no
// posts; malformed markup yields the posts decoded before the fault. Both are
// reported through the error.
func (s *FeedSource) FetchPosts(ctx context.Context) ([]domain.Post, error) {
	raw, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return []domain.Post{}, err
	}
	s.logger.Debug("feed fetched", "bytes", len(raw))

	posts, err := Parse(raw)
	for _, p := range posts {
		if IsFallbackID(p.SourceID) {
			s.logger.Warn("feed item without post link, using positional id", "id", p.SourceID, "title", p.Title)
		}
	}
	s.logger.Debug("feed parsed", "posts", len(posts))
	return posts, err
}
