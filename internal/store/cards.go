package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const cardSelect = `
	SELECT c.id, c.board_id, c.content, c.start_time, c.end_time, c.order_index, c.locked,
		c.created_at, c.updated_at,
		l.card_id, COALESCE(l.title, ''), COALESCE(l.address, ''), l.latitude, l.longitude,
		COALESCE(l.category, ''), COALESCE(l.thumbnail_url, '')
	FROM cards c
	LEFT JOIN locations l ON l.card_id = c.id
`

func scanCard(row rowScanner) (Card, error) {
	var (
		c           Card
		loc         Location
		locationRef sql.NullString
	)
	err := row.Scan(
		&c.ID, &c.BoardID, &c.Content, &c.StartTime, &c.EndTime, &c.OrderIndex, &c.Locked,
		&c.CreatedAt, &c.UpdatedAt,
		&locationRef, &loc.Title, &loc.Address, &loc.Latitude, &loc.Longitude,
		&loc.Category, &loc.ThumbnailURL,
	)
	if err != nil {
		return Card{}, err
	}
	if locationRef.Valid {
		loc.CardID = locationRef.String
		c.Location = &loc
	}
	return c, nil
}

func collectCards(rows *sql.Rows) ([]Card, error) {
	defer rows.Close()
	var out []Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return out, nil
}

func (q queries) GetCard(ctx context.Context, id string) (Card, error) {
	c, err := scanCard(q.q.QueryRowContext(ctx, cardSelect+` WHERE c.id = $1`, id))
	if err != nil {
		return Card{}, notFound(fmt.Errorf("get card: %w", err), "card %s not found", id)
	}
	return c, nil
}

func (q queries) ListCards(ctx context.Context, boardID string) ([]Card, error) {
	rows, err := q.q.QueryContext(ctx, cardSelect+` WHERE c.board_id = $1 ORDER BY c.order_index, c.id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	return collectCards(rows)
}

// MaxOrderIndex returns the highest index on the board, -1 when it is empty.
func (q queries) MaxOrderIndex(ctx context.Context, boardID string) (int, error) {
	var max int
	err := q.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(order_index), -1) FROM cards WHERE board_id = $1
	`, boardID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max order index: %w", err)
	}
	return max, nil
}

// ShiftCards adds delta to every index in [from, to].
func (q queries) ShiftCards(ctx context.Context, boardID string, from, to, delta int, now time.Time) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE cards SET order_index = order_index + $1, updated_at = $2
		WHERE board_id = $3 AND order_index BETWEEN $4 AND $5
	`, delta, now, boardID, from, to)
	if err != nil {
		return fmt.Errorf("shift cards: %w", err)
	}
	return nil
}

// InsertCard writes the card row and, when present, its location.
func (q queries) InsertCard(ctx context.Context, c Card) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO cards (id, board_id, content, start_time, end_time, order_index, locked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.BoardID, c.Content, c.StartTime, c.EndTime, c.OrderIndex, c.Locked, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	if c.Location != nil {
		loc := *c.Location
		loc.CardID = c.ID
		if err := q.UpsertLocation(ctx, loc); err != nil {
			return err
		}
	}
	return nil
}

func (q queries) DeleteCard(ctx context.Context, id string) error {
	result, err := q.q.ExecContext(ctx, `DELETE FROM cards WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	return expectRow(result, "card %s not found", id)
}

func (q queries) SetCardOrder(ctx context.Context, id string, index int, now time.Time) error {
	result, err := q.q.ExecContext(ctx, `
		UPDATE cards SET order_index = $1, updated_at = $2 WHERE id = $3
	`, index, now, id)
	if err != nil {
		return fmt.Errorf("set card order: %w", err)
	}
	return expectRow(result, "card %s not found", id)
}

// UpdateCardFields overwrites the editable columns; ordering is left alone.
func (q queries) UpdateCardFields(ctx context.Context, c Card, now time.Time) error {
	result, err := q.q.ExecContext(ctx, `
		UPDATE cards SET content = $1, start_time = $2, end_time = $3, locked = $4, updated_at = $5
		WHERE id = $6
	`, c.Content, c.StartTime, c.EndTime, c.Locked, now, c.ID)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	return expectRow(result, "card %s not found", c.ID)
}

func (q queries) UpsertLocation(ctx context.Context, loc Location) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO locations (card_id, title, address, latitude, longitude, category, thumbnail_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (card_id) DO UPDATE SET
			title = excluded.title,
			address = excluded.address,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			category = excluded.category,
			thumbnail_url = excluded.thumbnail_url
	`, loc.CardID, loc.Title, loc.Address, loc.Latitude, loc.Longitude, loc.Category, loc.ThumbnailURL)
	if err != nil {
		return fmt.Errorf("upsert location: %w", err)
	}
	return nil
}

func (q queries) DeleteLocation(ctx context.Context, cardID string) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM locations WHERE card_id = $1`, cardID); err != nil {
		return fmt.Errorf("delete location: %w", err)
	}
	return nil
}
