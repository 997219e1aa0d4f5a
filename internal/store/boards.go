package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const boardColumns = `id, template_id, day_number, created_at, updated_at`

func scanBoard(row rowScanner) (Board, error) {
	var b Board
	err := row.Scan(&b.ID, &b.TemplateID, &b.DayNumber, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (q queries) GetBoard(ctx context.Context, id string) (Board, error) {
	b, err := scanBoard(q.q.QueryRowContext(ctx, `SELECT `+boardColumns+` FROM boards WHERE id = $1`, id))
	if err != nil {
		return Board{}, notFound(fmt.Errorf("get board: %w", err), "board %s not found", id)
	}
	return b, nil
}

func (q queries) ListBoards(ctx context.Context, templateID string) ([]Board, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+boardColumns+` FROM boards WHERE template_id = $1 ORDER BY day_number, id
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	var out []Board
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return out, nil
}

// ListBoardTrees reads every board of the template by day, each with its
// cards by index, in a single statement so the layout is one snapshot.
func (q queries) ListBoardTrees(ctx context.Context, templateID string) ([]BoardTree, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT b.id, b.template_id, b.day_number, b.created_at, b.updated_at,
			c.id, c.content, c.start_time, c.end_time, c.order_index, c.locked,
			c.created_at, c.updated_at,
			l.card_id, COALESCE(l.title, ''), COALESCE(l.address, ''), l.latitude, l.longitude,
			COALESCE(l.category, ''), COALESCE(l.thumbnail_url, '')
		FROM boards b
		LEFT JOIN cards c ON c.board_id = b.id
		LEFT JOIN locations l ON l.card_id = c.id
		WHERE b.template_id = $1
		ORDER BY b.day_number, b.id, c.order_index, c.id
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list board trees: %w", err)
	}
	defer rows.Close()

	out := []BoardTree{}
	for rows.Next() {
		var (
			b           Board
			cardID      sql.NullString
			content     sql.NullString
			startTime   sql.NullString
			endTime     sql.NullString
			orderIndex  sql.NullInt64
			locked      sql.NullBool
			createdAt   sql.NullTime
			updatedAt   sql.NullTime
			locationRef sql.NullString
			loc         Location
		)
		err := rows.Scan(
			&b.ID, &b.TemplateID, &b.DayNumber, &b.CreatedAt, &b.UpdatedAt,
			&cardID, &content, &startTime, &endTime, &orderIndex, &locked,
			&createdAt, &updatedAt,
			&locationRef, &loc.Title, &loc.Address, &loc.Latitude, &loc.Longitude,
			&loc.Category, &loc.ThumbnailURL,
		)
		if err != nil {
			return nil, fmt.Errorf("scan board tree: %w", err)
		}
		if n := len(out); n == 0 || out[n-1].ID != b.ID {
			out = append(out, BoardTree{Board: b, Cards: []Card{}})
		}
		if !cardID.Valid {
			continue
		}
		card := Card{
			ID:         cardID.String,
			BoardID:    b.ID,
			Content:    content.String,
			StartTime:  startTime.String,
			EndTime:    endTime.String,
			OrderIndex: int(orderIndex.Int64),
			Locked:     locked.Bool,
			CreatedAt:  createdAt.Time,
			UpdatedAt:  updatedAt.Time,
		}
		if locationRef.Valid {
			loc.CardID = locationRef.String
			card.Location = &loc
		}
		last := &out[len(out)-1]
		last.Cards = append(last.Cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate board trees: %w", err)
	}
	return out, nil
}

// MaxDayNumber returns the highest day of the template, 0 when it has no
// boards. With dense numbering it is also the board count.
func (q queries) MaxDayNumber(ctx context.Context, templateID string) (int, error) {
	var max int
	err := q.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(day_number), 0) FROM boards WHERE template_id = $1
	`, templateID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max day number: %w", err)
	}
	return max, nil
}

// ShiftBoards adds delta to every day in [from, to].
func (q queries) ShiftBoards(ctx context.Context, templateID string, from, to, delta int, now time.Time) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE boards SET day_number = day_number + $1, updated_at = $2
		WHERE template_id = $3 AND day_number BETWEEN $4 AND $5
	`, delta, now, templateID, from, to)
	if err != nil {
		return fmt.Errorf("shift boards: %w", err)
	}
	return nil
}

func (q queries) InsertBoard(ctx context.Context, b Board) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO boards (id, template_id, day_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, b.ID, b.TemplateID, b.DayNumber, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert board: %w", err)
	}
	return nil
}

func (q queries) DeleteBoard(ctx context.Context, id string) error {
	result, err := q.q.ExecContext(ctx, `DELETE FROM boards WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete board: %w", err)
	}
	return expectRow(result, "board %s not found", id)
}

func (q queries) SetBoardDay(ctx context.Context, id string, day int, now time.Time) error {
	result, err := q.q.ExecContext(ctx, `
		UPDATE boards SET day_number = $1, updated_at = $2 WHERE id = $3
	`, day, now, id)
	if err != nil {
		return fmt.Errorf("set board day: %w", err)
	}
	return expectRow(result, "board %s not found", id)
}

// TouchBoard takes the board row lock that serialises card renumbering.
func (q queries) TouchBoard(ctx context.Context, id string, now time.Time) error {
	result, err := q.q.ExecContext(ctx, `UPDATE boards SET updated_at = $1 WHERE id = $2`, now, id)
	if err != nil {
		return fmt.Errorf("lock board: %w", err)
	}
	return expectRow(result, "board %s not found", id)
}
