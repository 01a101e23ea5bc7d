package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"FeedNotifier/internal/domain"
)

// ActiveSubscribers returns active users that own at least one active filter.
// Subscribers are ordered by id and their filters by creation.
func (s *Store) ActiveSubscribers(ctx context.Context) ([]domain.SubscriberFilters, error) {
	q := s.sb.Select(
		"u.id", "u.channel_address",
		"f.id", "f.keyword_count", "f.keyword1", "f.keyword2", "f.keyword3",
	).
		From("users u").
		Join("filters f ON f.user_id = u.id").
		Where(sq.Eq{"u.active": true, "f.active": true}).
		OrderBy("u.id ASC", "f.id ASC")

	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query active subscribers: %w", err)
	}
	defer rows.Close()

	var out []domain.SubscriberFilters
	for rows.Next() {
		var (
			sub domain.Subscriber
			f   domain.Filter
		)
		if err := rows.Scan(&sub.ID, &sub.ChannelAddress, &f.ID, &f.KeywordCount, &f.Keyword1, &f.Keyword2, &f.Keyword3); err != nil {
			return nil, fmt.Errorf("scan subscriber filter: %w", err)
		}
		sub.Active = true
		f.SubscriberID = sub.ID
		f.Active = true

		if n := len(out); n == 0 || out[n-1].Subscriber.ID != sub.ID {
			out = append(out, domain.SubscriberFilters{Subscriber: sub})
		}
		last := &out[len(out)-1]
		last.Filters = append(last.Filters, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// Deactivate marks a subscriber inactive so fan-out skips it.
func (s *Store) Deactivate(ctx context.Context, subscriberID int64) error {
	_, err := s.exec(ctx, s.sb.Update("users").
		Set("active", false).
		Where(sq.Eq{"id": subscriberID}))
	if err != nil {
		return domain.Persistence(fmt.Sprintf("deactivate subscriber %d", subscriberID), err)
	}
	return nil
}

// CreateSubscriber registers an active subscriber and returns its id.
func (s *Store) CreateSubscriber(ctx context.Context, channelAddress string) (int64, error) {
	var id int64
	err := s.scanRow(ctx, s.sb.Insert("users").
		Columns("channel_address", "active").
		Values(channelAddress, true).
		Suffix("RETURNING id"), &id)
	if err != nil {
		return 0, fmt.Errorf("insert subscriber: %w", err)
	}
	return id, nil
}

// CreateFilter validates and stores a filter for an existing subscriber.
func (s *Store) CreateFilter(ctx context.Context, f domain.Filter) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}

	var id int64
	err := s.scanRow(ctx, s.sb.Insert("filters").
		Columns("user_id", "active", "keyword_count", "keyword1", "keyword2", "keyword3").
		Values(f.SubscriberID, f.Active, f.KeywordCount, f.Keyword1, f.Keyword2, f.Keyword3).
		Suffix("RETURNING id"), &id)
	if err != nil {
		return 0, fmt.Errorf("insert filter: %w", err)
	}
	return id, nil
}

// Subscriber loads a single subscriber by id.
func (s *Store) Subscriber(ctx context.Context, id int64) (domain.Subscriber, error) {
	var sub domain.Subscriber
	err := s.scanRow(ctx, s.sb.Select("id", "channel_address", "active").
		From("users").
		Where(sq.Eq{"id": id}), &sub.ID, &sub.ChannelAddress, &sub.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Subscriber{}, fmt.Errorf("subscriber %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Subscriber{}, fmt.Errorf("load subscriber %d: %w", id, err)
	}
	return sub, nil
}
