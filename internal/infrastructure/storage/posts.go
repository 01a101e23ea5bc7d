package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"FeedNotifier/internal/domain"
)

var postColumns = []string{"source_id", "title", "body", "pub_date", "category", "author", "matched"}

// UpsertNew inserts posts whose source id is not yet stored and leaves existing
// rows untouched. A failed row does not stop the batch; every row failure is
// joined into the returned error alongside the count of rows actually inserted.
func (s *Store) UpsertNew(ctx context.Context, posts []domain.Post) (int, error) {
	var (
		inserted int
		errs     []error
	)
	for _, p := range posts {
		res, err := s.exec(ctx, s.sb.Insert("posts").
			Columns("source_id", "title", "body", "pub_date", "category", "author").
			Values(p.SourceID, p.Title, p.Body, p.PublishedAt, p.Category, p.Author).
			Suffix("ON CONFLICT (source_id) DO NOTHING"))
		if err != nil {
			s.logger.Warn("insert post failed", "source_id", p.SourceID, "error", err)
			errs = append(errs, domain.Persistence("insert post "+p.SourceID, err))
			continue
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}
	return inserted, errors.Join(errs...)
}

// Unmatched returns up to limit posts that fan-out has not processed, newest first.
func (s *Store) Unmatched(ctx context.Context, limit int) ([]domain.Post, error) {
	q := s.sb.Select(postColumns...).
		From("posts").
		Where(sq.Eq{"matched": false}).
		OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query unmatched posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return posts, nil
}

// MarkMatched flags a post as processed by fan-out. It is idempotent.
func (s *Store) MarkMatched(ctx context.Context, sourceID string) error {
	_, err := s.exec(ctx, s.sb.Update("posts").
		Set("matched", true).
		Where(sq.Eq{"source_id": sourceID}))
	if err != nil {
		return domain.Persistence("mark post "+sourceID+" matched", err)
	}
	return nil
}

// Post loads a single post by source id.
func (s *Store) Post(ctx context.Context, sourceID string) (domain.Post, error) {
	query, args, err := s.sb.Select(postColumns...).
		From("posts").
		Where(sq.Eq{"source_id": sourceID}).
		ToSql()
	if err != nil {
		return domain.Post{}, fmt.Errorf("build query: %w", err)
	}

	p, err := scanPost(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Post{}, fmt.Errorf("post %s: %w", sourceID, ErrNotFound)
	}
	if err != nil {
		return domain.Post{}, fmt.Errorf("load post %s: %w", sourceID, err)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(r rowScanner) (domain.Post, error) {
	var p domain.Post
	err := r.Scan(&p.SourceID, &p.Title, &p.Body, &p.PublishedAt, &p.Category, &p.Author, &p.Matched)
	return p, err
}
