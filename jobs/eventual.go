package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/teranos/exportd/errors"
)

// CreateEventualRequest queues a one-shot extraction.
func (s *Store) CreateEventualRequest(ctx context.Context, name, query string) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, errors.NewDefinitionError("eventual request needs a name")
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO eventual_requests (name, query, created_at) VALUES (?, ?, ?)",
		name, query, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, errors.Wrap(err, "failed to create eventual request")
	}
	return res.LastInsertId()
}

// ListEventualRequests returns pending requests, oldest first.
func (s *Store) ListEventualRequests(ctx context.Context) ([]EventualRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, query, created_at FROM eventual_requests ORDER BY id")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list eventual requests")
	}
	defer rows.Close()

	var reqs []EventualRequest
	for rows.Next() {
		var r EventualRequest
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Name, &r.Query, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan eventual request")
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, errors.Wrapf(err, "failed to parse created_at for eventual request %d", r.ID)
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// DeleteEventualRequest removes a request. Deleting a missing request is not an error.
func (s *Store) DeleteEventualRequest(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM eventual_requests WHERE id = ?", id); err != nil {
		return errors.Wrapf(err, "failed to delete eventual request %d", id)
	}
	return nil
}
