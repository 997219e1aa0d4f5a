package store

import (
	"context"
	"fmt"
	"time"
)

// UpsertUser records the profile carried by a verified identity.
func (q queries) UpsertUser(ctx context.Context, user User, now time.Time) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO users (id, display_name, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			updated_at = excluded.updated_at
	`, user.ID, user.DisplayName, user.AvatarURL, now)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (q queries) GetUser(ctx context.Context, id string) (User, error) {
	var user User
	err := q.q.QueryRowContext(ctx, `
		SELECT id, display_name, avatar_url, created_at, updated_at FROM users WHERE id = $1
	`, id).Scan(&user.ID, &user.DisplayName, &user.AvatarURL, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, notFound(fmt.Errorf("get user: %w", err), "user %s not found", id)
	}
	return user, nil
}
