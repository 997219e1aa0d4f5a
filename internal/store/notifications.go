package store

import (
	"context"
	"fmt"
	"time"
)

func (q queries) InsertNotification(ctx context.Context, n Notification) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_user_id, actor_user_id, template_id, kind, message, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
	`, n.ID, n.RecipientUserID, n.ActorUserID, n.TemplateID, n.Kind, n.Message, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (q queries) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, recipient_user_id, actor_user_id, COALESCE(template_id, ''), kind, message, read_at, created_at
		FROM notifications
		WHERE recipient_user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientUserID, &n.ActorUserID, &n.TemplateID, &n.Kind, &n.Message, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// MarkNotificationRead only touches notifications addressed to userID.
func (q queries) MarkNotificationRead(ctx context.Context, id, userID string, now time.Time) error {
	result, err := q.q.ExecContext(ctx, `
		UPDATE notifications SET read_at = $1 WHERE id = $2 AND recipient_user_id = $3
	`, now, id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return expectRow(result, "notification %s not found", id)
}
