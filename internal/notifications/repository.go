package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the Postgres-backed notification store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores one alert.
func (r *Repository) Insert(ctx context.Context, n Notification) (Notification, error) {
	metaJSON, err := json.Marshal(n.Meta)
	if err != nil {
		return Notification{}, fmt.Errorf("marshal notification meta: %w", err)
	}
	row := r.pool.QueryRow(ctx, `
        INSERT INTO notifications (recipient_role, kind, title, body, meta, read, created_at)
        VALUES ($1, $2, $3, $4, $5, FALSE, NOW())
        RETURNING id, created_at`,
		n.RecipientRole, n.Kind, n.Title, n.Body, metaJSON,
	)
	if err := row.Scan(&n.ID, &n.CreatedAt); err != nil {
		return Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

// ListFilter narrows notification listings.
type ListFilter struct {
	RecipientRole string
	UnreadOnly    bool
	Limit         int
}

// List returns stored alerts, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Notification, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
        SELECT id, recipient_role, kind, title, body, meta, read, created_at
        FROM notifications
        WHERE ($1 = '' OR recipient_role = $1)
          AND (NOT $2 OR NOT read)
        ORDER BY created_at DESC, id DESC
        LIMIT $3`,
		filter.RecipientRole, filter.UnreadOnly, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications := []Notification{}
	for rows.Next() {
		var (
			n        Notification
			metaJSON []byte
		)
		if err := rows.Scan(&n.ID, &n.RecipientRole, &n.Kind, &n.Title, &n.Body, &metaJSON, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &n.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal notification meta: %w", err)
			}
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkRead flags one alert as read.
func (r *Repository) MarkRead(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// UnreadCount returns the number of unread alerts for a role.
func (r *Repository) UnreadCount(ctx context.Context, role string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE recipient_role = $1 AND NOT read`, role).Scan(&count)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}
