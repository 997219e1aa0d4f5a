package store

import (
	"context"
	"fmt"
	"time"
)

func (q queries) IsCollaborator(ctx context.Context, templateID, userID string) (bool, error) {
	var exists bool
	err := q.q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM collaborators WHERE template_id = $1 AND user_id = $2)
	`, templateID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check collaborator: %w", err)
	}
	return exists, nil
}

func (q queries) ListCollaborators(ctx context.Context, templateID string) ([]Collaborator, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT c.template_id, c.user_id, COALESCE(u.display_name, ''), COALESCE(u.avatar_url, ''), c.created_at
		FROM collaborators c
		LEFT JOIN users u ON u.id = c.user_id
		WHERE c.template_id = $1
		ORDER BY c.created_at, c.user_id
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	var out []Collaborator
	for rows.Next() {
		var c Collaborator
		if err := rows.Scan(&c.TemplateID, &c.UserID, &c.DisplayName, &c.AvatarURL, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collaborators: %w", err)
	}
	return out, nil
}

// AddCollaborator is idempotent.
func (q queries) AddCollaborator(ctx context.Context, templateID, userID string, now time.Time) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO collaborators (template_id, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (template_id, user_id) DO NOTHING
	`, templateID, userID, now)
	if err != nil {
		return fmt.Errorf("add collaborator: %w", err)
	}
	return nil
}

func (q queries) RemoveCollaborator(ctx context.Context, templateID, userID string) error {
	result, err := q.q.ExecContext(ctx, `
		DELETE FROM collaborators WHERE template_id = $1 AND user_id = $2
	`, templateID, userID)
	if err != nil {
		return fmt.Errorf("remove collaborator: %w", err)
	}
	return expectRow(result, "collaborator %s not found", userID)
}
