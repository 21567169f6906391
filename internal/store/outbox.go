package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/atsguard/internal/queryir"
)

// EnqueueNotification writes an outbox row in the scoped transaction, so it
// commits if and only if the transition commits.
func (t *Tx) EnqueueNotification(ctx context.Context, n Notification) error {
	_, err := t.execStmt(ctx, queryir.Insert{
		Into: "notifications",
		Columns: []string{
			"id", "subject_type", "subject_id", "seq", "old_status",
			"new_status", "occurred_at", "attempts",
		},
		Values: []any{
			n.ID, n.SubjectType, n.SubjectID, n.Seq, n.OldStatus,
			n.NewStatus, n.OccurredAt.UTC(), 0,
		},
	}, "notification", n.ID)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// PendingNotifications returns undelivered notifications with fewer than
// maxAttempts failed deliveries. Subjects come oldest first and each
// subject's rows come in seq order, whatever their timestamps say. The
// dispatcher reads across tenants; each row carries its tenant for routing.
func (s *Store) PendingNotifications(ctx context.Context, limit, maxAttempts int) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT id, tenant_id, subject_type, subject_id, seq, old_status,
		       new_status, occurred_at, attempts
		FROM notifications
		WHERE delivered_at IS NULL AND attempts < ?
		ORDER BY MIN(occurred_at) OVER (PARTITION BY subject_type, subject_id) ASC,
		         subject_type ASC, subject_id ASC, seq ASC
		LIMIT ?
	`), maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("pending notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(
			&n.ID, &n.TenantID, &n.SubjectType, &n.SubjectID, &n.Seq,
			&n.OldStatus, &n.NewStatus, &n.OccurredAt, &n.Attempts,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.OccurredAt = n.OccurredAt.UTC()
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending notifications: %w", err)
	}
	return out, nil
}

// MarkNotificationDelivered records a successful publish.
func (s *Store) MarkNotificationDelivered(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE notifications SET delivered_at = ?, attempts = attempts + 1 WHERE id = ?
	`), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// MarkNotificationFailed counts a failed publish; the row stays pending.
func (s *Store) MarkNotificationFailed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE notifications SET attempts = attempts + 1 WHERE id = ?
	`), id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}
