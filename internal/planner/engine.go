// Package planner keeps board days and card indexes dense while boards and
// cards are inserted, deleted, moved and copied. Every exported operation runs
// in one transaction and either moves the template from one valid state to
// another or fails without effect.
package planner

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"itinera/api/internal/errs"
	"itinera/api/internal/store"
	"itinera/api/internal/util"
)

// DefaultMaxBoards is the number of days a template may hold.
const DefaultMaxBoards = 15

const (
	boardSentinel = 0
	cardSentinel  = -1
	unbounded     = math.MaxInt32
)

// Position is where a new board or card goes: End, or At an explicit day or
// index.
type Position struct {
	index int
	end   bool
}

var End = Position{end: true}

func At(n int) Position {
	return Position{index: n}
}

type Options struct {
	MaxBoards int
	Now       func() time.Time
	NewID     func() string
	Logger    zerolog.Logger
}

type Engine struct {
	store     *store.SQLStore
	maxBoards int
	now       func() time.Time
	newID     func() string
	logger    zerolog.Logger
}

func NewEngine(st *store.SQLStore, opts Options) *Engine {
	if opts.MaxBoards <= 0 {
		opts.MaxBoards = DefaultMaxBoards
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = util.NewID
	}
	return &Engine{
		store:     st,
		maxBoards: opts.MaxBoards,
		now:       opts.Now,
		newID:     opts.NewID,
		logger:    opts.Logger.With().Str("component", "planner").Logger(),
	}
}

// CreateTemplate creates a template owned by ownerID together with its first
// day.
func (e *Engine) CreateTemplate(ctx context.Context, ownerID, title string, privacy store.Privacy) (store.Template, store.Board, error) {
	if privacy == "" {
		privacy = store.PrivacyPrivate
	}
	if !privacy.Valid() {
		return store.Template{}, store.Board{}, errs.Validation("unknown privacy %q", privacy)
	}
	if title == "" {
		return store.Template{}, store.Board{}, errs.Validation("title is required")
	}

	now := e.now()
	tpl := store.Template{ID: e.newID(), OwnerUserID: ownerID, Title: title, Privacy: privacy, CreatedAt: now, UpdatedAt: now}
	board := store.Board{ID: e.newID(), TemplateID: tpl.ID, DayNumber: 1, CreatedAt: now, UpdatedAt: now}

	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertTemplate(ctx, tpl); err != nil {
			return err
		}
		return tx.InsertBoard(ctx, board)
	})
	if err != nil {
		return store.Template{}, store.Board{}, err
	}
	e.logger.Debug().Str("template_id", tpl.ID).Msg("template created")
	return tpl, board, nil
}

// InsertBoard adds a day to the template. At(n) shifts days n and later up by
// one; positions past the end append.
func (e *Engine) InsertBoard(ctx context.Context, templateID string, pos Position) (store.Board, error) {
	if !pos.end && pos.index < 1 {
		return store.Board{}, errs.Validation("day number must be at least 1, got %d", pos.index)
	}

	var board store.Board
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		now := e.now()
		if err := tx.TouchTemplate(ctx, templateID, now); err != nil {
			return err
		}
		max, err := tx.MaxDayNumber(ctx, templateID)
		if err != nil {
			return err
		}
		if max >= e.maxBoards {
			return errs.CapacityExceeded("a trip can have at most %d days", e.maxBoards)
		}

		day := max + 1
		if !pos.end && pos.index <= max {
			day = pos.index
			if err := tx.ShiftBoards(ctx, templateID, day, max, 1, now); err != nil {
				return err
			}
		}

		board = store.Board{ID: e.newID(), TemplateID: templateID, DayNumber: day, CreatedAt: now, UpdatedAt: now}
		return tx.InsertBoard(ctx, board)
	})
	if err != nil {
		return store.Board{}, err
	}
	return board, nil
}

// DeleteBoard removes the board with its cards and closes the gap in the
// template's days.
func (e *Engine) DeleteBoard(ctx context.Context, boardID string) (store.Board, error) {
	var board store.Board
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		now := e.now()
		var err error
		board, err = e.lockBoardTemplate(ctx, tx, boardID, now)
		if err != nil {
			return err
		}
		if err := tx.DeleteBoard(ctx, board.ID); err != nil {
			return err
		}
		return tx.ShiftBoards(ctx, board.TemplateID, board.DayNumber+1, unbounded, -1, now)
	})
	if err != nil {
		return store.Board{}, err
	}
	return board, nil
}

// MoveBoard moves a board to target, clamped to the last day. Boards between
// the old and the new day shift by one towards the vacated slot.
func (e *Engine) MoveBoard(ctx context.Context, boardID string, target int) (store.Board, error) {
	if target < 1 {
		return store.Board{}, errs.Validation("day number must be at least 1, got %d", target)
	}

	var board store.Board
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		now := e.now()
		var err error
		board, err = e.lockBoardTemplate(ctx, tx, boardID, now)
		if err != nil {
			return err
		}
		max, err := tx.MaxDayNumber(ctx, board.TemplateID)
		if err != nil {
			return err
		}
		if target > max {
			target = max
		}
		from := board.DayNumber
		if target == from {
			return nil
		}

		if err := tx.SetBoardDay(ctx, board.ID, boardSentinel, now); err != nil {
			return err
		}
		if target > from {
			err = tx.ShiftBoards(ctx, board.TemplateID, from+1, target, -1, now)
		} else {
			err = tx.ShiftBoards(ctx, board.TemplateID, target, from-1, 1, now)
		}
		if err != nil {
			return err
		}
		if err := tx.SetBoardDay(ctx, board.ID, target, now); err != nil {
			return err
		}
		board.DayNumber = target
		board.UpdatedAt = now
		return nil
	})
	if err != nil {
		return store.Board{}, err
	}
	return board, nil
}

// lockBoardTemplate locks the board's template and re-reads the board so its
// day is current under the lock.
func (e *Engine) lockBoardTemplate(ctx context.Context, tx *store.Tx, boardID string, now time.Time) (store.Board, error) {
	board, err := tx.GetBoard(ctx, boardID)
	if err != nil {
		return store.Board{}, err
	}
	if err := tx.TouchTemplate(ctx, board.TemplateID, now); err != nil {
		return store.Board{}, err
	}
	return tx.GetBoard(ctx, boardID)
}

func clamp(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
