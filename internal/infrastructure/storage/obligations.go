package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"FeedNotifier/internal/domain"
)

// CreateObligation records a delivery obligation unless its key already exists.
// The boolean reports whether a new row was written.
func (s *Store) CreateObligation(ctx context.Context, o domain.Obligation) (bool, error) {
	res, err := s.exec(ctx, s.sb.Insert("obligations").
		Columns("user_id", "channel_address", "post_id", "filter_id", "status").
		Values(o.Key.SubscriberID, o.ChannelAddress, o.Key.PostID, o.Key.FilterID, string(domain.StatusPending)).
		Suffix("ON CONFLICT (user_id, post_id, filter_id) DO NOTHING"))
	if err != nil {
		return false, domain.Persistence(fmt.Sprintf("insert obligation %s", keyString(o.Key)), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.Persistence("obligation rows affected", err)
	}
	return n > 0, nil
}

// Pending returns up to limit pending obligations joined with their post, filter,
// and subscriber, oldest first.
func (s *Store) Pending(ctx context.Context, limit int) ([]domain.Delivery, error) {
	q := s.sb.Select(
		"o.user_id", "o.post_id", "o.filter_id", "o.channel_address",
		"p.title", "p.body", "p.pub_date", "p.category", "p.author", "p.matched",
		"f.active", "f.keyword_count", "f.keyword1", "f.keyword2", "f.keyword3",
		"u.active",
	).
		From("obligations o").
		Join("posts p ON p.source_id = o.post_id").
		Join("filters f ON f.id = o.filter_id").
		Join("users u ON u.id = o.user_id").
		Where(sq.Eq{"o.status": string(domain.StatusPending)}).
		OrderBy("o.created_at ASC", "o.id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query pending obligations: %w", err)
	}
	defer rows.Close()

	var out []domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		err := rows.Scan(
			&d.Obligation.Key.SubscriberID, &d.Obligation.Key.PostID, &d.Obligation.Key.FilterID, &d.Obligation.ChannelAddress,
			&d.Post.Title, &d.Post.Body, &d.Post.PublishedAt, &d.Post.Category, &d.Post.Author, &d.Post.Matched,
			&d.Filter.Active, &d.Filter.KeywordCount, &d.Filter.Keyword1, &d.Filter.Keyword2, &d.Filter.Keyword3,
			&d.Subscriber.Active,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pending obligation: %w", err)
		}
		d.Obligation.Status = domain.StatusPending
		d.Post.SourceID = d.Obligation.Key.PostID
		d.Filter.ID = d.Obligation.Key.FilterID
		d.Filter.SubscriberID = d.Obligation.Key.SubscriberID
		d.Subscriber.ID = d.Obligation.Key.SubscriberID
		d.Subscriber.ChannelAddress = d.Obligation.ChannelAddress
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// MarkSent finalises a pending obligation as delivered.
func (s *Store) MarkSent(ctx context.Context, key domain.ObligationKey) error {
	return s.finalise(ctx, key, domain.StatusSent, nil)
}

// MarkFailed finalises a pending obligation as failed with the channel-reported detail.
func (s *Store) MarkFailed(ctx context.Context, key domain.ObligationKey, detail string) error {
	return s.finalise(ctx, key, domain.StatusFailed, detail)
}

// finalise only touches rows still pending, so each obligation leaves pending at most once.
func (s *Store) finalise(ctx context.Context, key domain.ObligationKey, status domain.ObligationStatus, detail any) error {
	res, err := s.exec(ctx, s.sb.Update("obligations").
		Set("status", string(status)).
		Set("error_detail", detail).
		Set("updated_at", sq.Expr("CURRENT_TIMESTAMP")).
		Where(keyPredicate(key)).
		Where(sq.Eq{"status": string(domain.StatusPending)}))
	if err != nil {
		return domain.Persistence(fmt.Sprintf("mark obligation %s %s", keyString(key), status), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.logger.Debug("obligation already final", "key", keyString(key), "status", status)
	}
	return nil
}

// Obligations lists every obligation in creation order.
func (s *Store) Obligations(ctx context.Context) ([]domain.Obligation, error) {
	rows, err := s.query(ctx, s.sb.Select("user_id", "post_id", "filter_id", "channel_address", "status", "error_detail").
		From("obligations").
		OrderBy("id ASC"))
	if err != nil {
		return nil, fmt.Errorf("query obligations: %w", err)
	}
	defer rows.Close()

	var out []domain.Obligation
	for rows.Next() {
		var (
			o      domain.Obligation
			status string
			detail sql.NullString
		)
		if err := rows.Scan(&o.Key.SubscriberID, &o.Key.PostID, &o.Key.FilterID, &o.ChannelAddress, &status, &detail); err != nil {
			return nil, fmt.Errorf("scan obligation: %w", err)
		}
		o.Status = domain.ObligationStatus(status)
		o.ErrorDetail = detail.String
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// CountByStatus reports how many obligations sit in each status.
func (s *Store) CountByStatus(ctx context.Context) (map[domain.ObligationStatus]int, error) {
	rows, err := s.query(ctx, s.sb.Select("status", "COUNT(*)").
		From("obligations").
		GroupBy("status"))
	if err != nil {
		return nil, fmt.Errorf("count obligations: %w", err)
	}
	defer rows.Close()

	counts := map[domain.ObligationStatus]int{
		domain.StatusPending: 0,
		domain.StatusSent:    0,
		domain.StatusFailed:  0,
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[domain.ObligationStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return counts, nil
}

func keyPredicate(key domain.ObligationKey) sq.Eq {
	return sq.Eq{
		"user_id":   key.SubscriberID,
		"post_id":   key.PostID,
		"filter_id": key.FilterID,
	}
}

func keyString(key domain.ObligationKey) string {
	return fmt.Sprintf("%d/%s/%d", key.SubscriberID, key.PostID, key.FilterID)
}
