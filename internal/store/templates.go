package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const templateColumns = `id, owner_user_id, title, privacy, shared_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (Template, error) {
	var t Template
	err := row.Scan(&t.ID, &t.OwnerUserID, &t.Title, &t.Privacy, &t.SharedCount, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (q queries) InsertTemplate(ctx context.Context, t Template) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO templates (id, owner_user_id, title, privacy, shared_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.OwnerUserID, t.Title, string(t.Privacy), t.SharedCount, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (q queries) GetTemplate(ctx context.Context, id string) (Template, error) {
	t, err := scanTemplate(q.q.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = $1`, id))
	if err != nil {
		return Template{}, notFound(fmt.Errorf("get template: %w", err), "template %s not found", id)
	}
	return t, nil
}

// ListTemplatesForUser returns templates the user owns or collaborates on,
// most recently updated first.
func (q queries) ListTemplatesForUser(ctx context.Context, userID string) ([]Template, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+templateColumns+`
		FROM templates
		WHERE owner_user_id = $1
			OR id IN (SELECT template_id FROM collaborators WHERE user_id = $1)
		ORDER BY updated_at DESC, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return out, nil
}

// SearchPublicTemplates is the SQL fallback for discovery when the search
// index is unavailable.
func (q queries) SearchPublicTemplates(ctx context.Context, term string, limit int) ([]Template, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+templateColumns+`
		FROM templates
		WHERE privacy = 'public' AND LOWER(title) LIKE $1
		ORDER BY shared_count DESC, updated_at DESC
		LIMIT $2
	`, "%"+likeEscape(term)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search templates: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return out, nil
}

func (q queries) UpdateTemplate(ctx context.Context, id, title string, privacy Privacy, now time.Time) error {
	result, err := q.q.ExecContext(ctx, `
		UPDATE templates SET title = $1, privacy = $2, updated_at = $3 WHERE id = $4
	`, title, string(privacy), now, id)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	return expectRow(result, "template %s not found", id)
}

func (q queries) DeleteTemplate(ctx context.Context, id string) error {
	result, err := q.q.ExecContext(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return expectRow(result, "template %s not found", id)
}

// TouchTemplate bumps updated_at. Inside a transaction the row lock it takes
// serialises every renumbering of the template's boards.
func (q queries) TouchTemplate(ctx context.Context, id string, now time.Time) error {
	result, err := q.q.ExecContext(ctx, `UPDATE templates SET updated_at = $1 WHERE id = $2`, now, id)
	if err != nil {
		return fmt.Errorf("lock template: %w", err)
	}
	return expectRow(result, "template %s not found", id)
}

func (q queries) IncrementSharedCount(ctx context.Context, id string) error {
	result, err := q.q.ExecContext(ctx, `UPDATE templates SET shared_count = shared_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment shared count: %w", err)
	}
	return expectRow(result, "template %s not found", id)
}

func likeEscape(term string) string {
	replacer := strings.NewReplacer(`%`, ``, `_`, ``)
	return strings.ToLower(replacer.Replace(strings.TrimSpace(term)))
}

// LoadTemplateTree reads a template with its boards by day and each board's
// cards by index.
func (q queries) LoadTemplateTree(ctx context.Context, id string) (TemplateTree, error) {
	tpl, err := q.GetTemplate(ctx, id)
	if err != nil {
		return TemplateTree{}, err
	}
	boards, err := q.ListBoardTrees(ctx, id)
	if err != nil {
		return TemplateTree{}, err
	}
	return TemplateTree{Template: tpl, Boards: boards}, nil
}
