package planner

import (
	"context"
	"slices"
	"strings"
	"time"

	"itinera/api/internal/errs"
	"itinera/api/internal/store"
)

// CopyCard appends a duplicate of the source card, location included, to the
// destination board.
func (e *Engine) CopyCard(ctx context.Context, actorID, sourceCardID, destBoardID string) (store.Card, error) {
	var copied store.Card
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		now := e.now()
		source, err := tx.GetCard(ctx, sourceCardID)
		if err != nil {
			return err
		}
		sourceBoard, err := tx.GetBoard(ctx, source.BoardID)
		if err != nil {
			return err
		}
		shared, err := shareTarget(ctx, tx, actorID, sourceBoard.TemplateID)
		if err != nil {
			return err
		}
		if err := lockTemplates(ctx, tx, now, "", shared); err != nil {
			return err
		}
		if err := tx.TouchBoard(ctx, destBoardID, now); err != nil {
			return err
		}
		max, err := tx.MaxOrderIndex(ctx, destBoardID)
		if err != nil {
			return err
		}

		copied = e.duplicateCard(source, destBoardID, max+1, now)
		return tx.InsertCard(ctx, copied)
	})
	if err != nil {
		return store.Card{}, err
	}
	return copied, nil
}

// CopyBoard appends a duplicate of the source board and all of its cards as
// the destination template's last day.
func (e *Engine) CopyBoard(ctx context.Context, actorID, sourceBoardID, destTemplateID string) (store.Board, error) {
	var copied store.Board
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		now := e.now()
		source, err := tx.GetBoard(ctx, sourceBoardID)
		if err != nil {
			return err
		}
		shared, err := shareTarget(ctx, tx, actorID, source.TemplateID)
		if err != nil {
			return err
		}
		if err := lockTemplates(ctx, tx, now, destTemplateID, shared); err != nil {
			return err
		}
		max, err := tx.MaxDayNumber(ctx, destTemplateID)
		if err != nil {
			return err
		}
		if max+1 > e.maxBoards {
			return errs.CapacityExceeded("a trip can have at most %d days", e.maxBoards)
		}
		cards, err := tx.ListCards(ctx, source.ID)
		if err != nil {
			return err
		}

		copied = store.Board{ID: e.newID(), TemplateID: destTemplateID, DayNumber: max + 1, CreatedAt: now, UpdatedAt: now}
		if err := tx.InsertBoard(ctx, copied); err != nil {
			return err
		}
		for _, card := range cards {
			if err := tx.InsertCard(ctx, e.duplicateCard(card, copied.ID, card.OrderIndex, now)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return store.Board{}, err
	}
	return copied, nil
}

// CopyTemplate creates a private template owned by actorID holding a copy of
// every source board, with its day, and every card, with its index. An empty
// title reuses the source title.
func (e *Engine) CopyTemplate(ctx context.Context, actorID, sourceTemplateID, title string) (store.Template, error) {
	var copied store.Template
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		now := e.now()
		source, err := tx.GetTemplate(ctx, sourceTemplateID)
		if err != nil {
			return err
		}
		if actorID != source.OwnerUserID {
			if err := tx.IncrementSharedCount(ctx, source.ID); err != nil {
				return err
			}
		}
		boards, err := tx.ListBoardTrees(ctx, source.ID)
		if err != nil {
			return err
		}

		if title = strings.TrimSpace(title); title == "" {
			title = source.Title
		}
		copied = store.Template{
			ID:          e.newID(),
			OwnerUserID: actorID,
			Title:       title,
			Privacy:     store.PrivacyPrivate,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertTemplate(ctx, copied); err != nil {
			return err
		}

		for _, board := range boards {
			dup := store.Board{ID: e.newID(), TemplateID: copied.ID, DayNumber: board.DayNumber, CreatedAt: now, UpdatedAt: now}
			if err := tx.InsertBoard(ctx, dup); err != nil {
				return err
			}
			for _, card := range board.Cards {
				if err := tx.InsertCard(ctx, e.duplicateCard(card, dup.ID, card.OrderIndex, now)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return store.Template{}, err
	}
	return copied, nil
}

func (e *Engine) duplicateCard(source store.Card, boardID string, index int, now time.Time) store.Card {
	id := e.newID()
	return store.Card{
		ID:         id,
		BoardID:    boardID,
		Content:    source.Content,
		StartTime:  source.StartTime,
		EndTime:    source.EndTime,
		OrderIndex: index,
		Locked:     source.Locked,
		Location:   withCardID(source.Location, id),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// shareTarget returns the template whose shared count a copy by actorID
// bumps, or "" when the actor owns it.
func shareTarget(ctx context.Context, tx *store.Tx, actorID, templateID string) (string, error) {
	tpl, err := tx.GetTemplate(ctx, templateID)
	if err != nil {
		return "", err
	}
	if actorID == tpl.OwnerUserID {
		return "", nil
	}
	return tpl.ID, nil
}

// lockTemplates takes template row locks in id order, before any board lock,
// matching the order board renumbering uses. touch only bumps updated_at;
// shared also gets its shared count incremented. Either may be empty.
func lockTemplates(ctx context.Context, tx *store.Tx, now time.Time, touch, shared string) error {
	ids := make([]string, 0, 2)
	for _, id := range []string{touch, shared} {
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		if id == touch {
			if err := tx.TouchTemplate(ctx, id, now); err != nil {
				return err
			}
		}
		if id == shared {
			if err := tx.IncrementSharedCount(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}
