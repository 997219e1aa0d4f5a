package planner

import (
	"context"
	"time"

	"itinera/api/internal/errs"
	"itinera/api/internal/store"
)

// CardFields are the user-editable parts of a new card.
type CardFields struct {
	Content   string
	StartTime string
	EndTime   string
	Locked    bool
	Location  *store.Location
}

// CardPatch is a partial card update. Nil fields are left unchanged.
type CardPatch struct {
	Content    *string
	StartTime  *string
	EndTime    *string
	Locked     *bool
	OrderIndex *int
	Location   LocationPatch
}

// LocationPatch distinguishes "leave alone" from "remove": Set with a nil
// Value deletes the location.
type LocationPatch struct {
	Set   bool
	Value *store.Location
}

// InsertCard adds a card to the board. The requested index is clamped into
// [0, max+1]; cards at or after it shift up by one.
func (e *Engine) InsertCard(ctx context.Context, boardID string, pos Position, fields CardFields) (store.Card, error) {
	if err := ValidateTimes(fields.StartTime, fields.EndTime); err != nil {
		return store.Card{}, err
	}

	var card store.Card
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		now := e.now()
		if err := tx.TouchBoard(ctx, boardID, now); err != nil {
			return err
		}
		max, err := tx.MaxOrderIndex(ctx, boardID)
		if err != nil {
			return err
		}

		index := max + 1
		if !pos.end {
			index = clamp(pos.index, 0, max+1)
		}
		if index <= max {
			if err := tx.ShiftCards(ctx, boardID, index, max, 1, now); err != nil {
				return err
			}
		}

		id := e.newID()
		card = store.Card{
			ID:         id,
			BoardID:    boardID,
			Content:    fields.Content,
			StartTime:  fields.StartTime,
			EndTime:    fields.EndTime,
			OrderIndex: index,
			Locked:     fields.Locked,
			Location:   withCardID(fields.Location, id),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return tx.InsertCard(ctx, card)
	})
	if err != nil {
		return store.Card{}, err
	}
	return card, nil
}

// DeleteCard removes the card and its location and closes the gap.
func (e *Engine) DeleteCard(ctx context.Context, cardID string) (store.Card, error) {
	var card store.Card
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		now := e.now()
		var err error
		card, err = lockCardBoard(ctx, tx, cardID, now)
		if err != nil {
			return err
		}
		if err := tx.DeleteCard(ctx, card.ID); err != nil {
			return err
		}
		return tx.ShiftCards(ctx, card.BoardID, card.OrderIndex+1, unbounded, -1, now)
	})
	if err != nil {
		return store.Card{}, err
	}
	return card, nil
}

// MoveCard moves a card within its board or onto another one. Within a board
// the index is clamped into [0, M-1]; across boards into [0, M_dest]. The card
// keeps its id, fields and location.
func (e *Engine) MoveCard(ctx context.Context, cardID, destBoardID string, destIndex int) (store.Card, error) {
	var moved store.Card
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		now := e.now()
		card, err := tx.GetCard(ctx, cardID)
		if err != nil {
			return err
		}
		if card.BoardID == destBoardID {
			if card, err = lockCardBoard(ctx, tx, cardID, now); err != nil {
				return err
			}
			moved, err = moveWithinBoard(ctx, tx, card, destIndex, now)
			return err
		}
		moved, err = moveAcrossBoards(ctx, tx, card, destBoardID, destIndex, now)
		return err
	})
	if err != nil {
		return store.Card{}, err
	}
	return moved, nil
}

// UpdateCard applies patch to the card. A new OrderIndex moves the card within
// its board.
func (e *Engine) UpdateCard(ctx context.Context, cardID string, patch CardPatch) (store.Card, error) {
	for _, value := range []*string{patch.StartTime, patch.EndTime} {
		if value != nil {
			if err := ValidateTime(*value); err != nil {
				return store.Card{}, err
			}
		}
	}

	var updated store.Card
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		now := e.now()
		card, err := lockCardBoard(ctx, tx, cardID, now)
		if err != nil {
			return err
		}

		if patch.Content != nil {
			card.Content = *patch.Content
		}
		if patch.StartTime != nil {
			card.StartTime = *patch.StartTime
		}
		if patch.EndTime != nil {
			card.EndTime = *patch.EndTime
		}
		if patch.Locked != nil {
			card.Locked = *patch.Locked
		}
		if err := ValidateTimes(card.StartTime, card.EndTime); err != nil {
			return err
		}
		if err := tx.UpdateCardFields(ctx, card, now); err != nil {
			return err
		}
		card.UpdatedAt = now

		if patch.Location.Set {
			if patch.Location.Value == nil {
				if err := tx.DeleteLocation(ctx, card.ID); err != nil {
					return err
				}
				card.Location = nil
			} else {
				card.Location = withCardID(patch.Location.Value, card.ID)
				if err := tx.UpsertLocation(ctx, *card.Location); err != nil {
					return err
				}
			}
		}

		if patch.OrderIndex != nil {
			if card, err = moveWithinBoard(ctx, tx, card, *patch.OrderIndex, now); err != nil {
				return err
			}
		}
		updated = card
		return nil
	})
	if err != nil {
		return store.Card{}, err
	}
	return updated, nil
}

// lockCardBoard locks the card's board and re-reads the card under the lock.
func lockCardBoard(ctx context.Context, tx *store.Tx, cardID string, now time.Time) (store.Card, error) {
	card, err := tx.GetCard(ctx, cardID)
	if err != nil {
		return store.Card{}, err
	}
	if err := tx.TouchBoard(ctx, card.BoardID, now); err != nil {
		return store.Card{}, err
	}
	locked, err := tx.GetCard(ctx, cardID)
	if err != nil {
		return store.Card{}, err
	}
	if err := stillOnBoard(locked, card.BoardID); err != nil {
		return store.Card{}, err
	}
	return locked, nil
}

// stillOnBoard rejects a card that a concurrent move took off boardID between
// the unlocked read and the lock.
func stillOnBoard(card store.Card, boardID string) error {
	if card.BoardID != boardID {
		return errs.Validation("card %s was moved by another request", card.ID)
	}
	return nil
}

// moveWithinBoard expects the board to be locked already.
func moveWithinBoard(ctx context.Context, tx *store.Tx, card store.Card, target int, now time.Time) (store.Card, error) {
	max, err := tx.MaxOrderIndex(ctx, card.BoardID)
	if err != nil {
		return store.Card{}, err
	}
	target = clamp(target, 0, max)
	from := card.OrderIndex
	if target == from {
		return card, nil
	}

	if err := tx.SetCardOrder(ctx, card.ID, cardSentinel, now); err != nil {
		return store.Card{}, err
	}
	if target > from {
		err = tx.ShiftCards(ctx, card.BoardID, from+1, target, -1, now)
	} else {
		err = tx.ShiftCards(ctx, card.BoardID, target, from-1, 1, now)
	}
	if err != nil {
		return store.Card{}, err
	}
	if err := tx.SetCardOrder(ctx, card.ID, target, now); err != nil {
		return store.Card{}, err
	}
	card.OrderIndex = target
	card.UpdatedAt = now
	return card, nil
}

func moveAcrossBoards(ctx context.Context, tx *store.Tx, card store.Card, destBoardID string, destIndex int, now time.Time) (store.Card, error) {
	source := card.BoardID
	first, second := source, destBoardID
	if second < first {
		first, second = second, first
	}
	for _, id := range []string{first, second} {
		if err := tx.TouchBoard(ctx, id, now); err != nil {
			return store.Card{}, err
		}
	}

	card, err := tx.GetCard(ctx, card.ID)
	if err != nil {
		return store.Card{}, err
	}
	if err := stillOnBoard(card, source); err != nil {
		return store.Card{}, err
	}

	destMax, err := tx.MaxOrderIndex(ctx, destBoardID)
	if err != nil {
		return store.Card{}, err
	}
	target := clamp(destIndex, 0, destMax+1)
	if target <= destMax {
		if err := tx.ShiftCards(ctx, destBoardID, target, destMax, 1, now); err != nil {
			return store.Card{}, err
		}
	}

	if err := tx.DeleteCard(ctx, card.ID); err != nil {
		return store.Card{}, err
	}
	if err := tx.ShiftCards(ctx, source, card.OrderIndex+1, unbounded, -1, now); err != nil {
		return store.Card{}, err
	}

	card.BoardID = destBoardID
	card.OrderIndex = target
	card.UpdatedAt = now
	if err := tx.InsertCard(ctx, card); err != nil {
		return store.Card{}, err
	}
	return card, nil
}

func withCardID(loc *store.Location, cardID string) *store.Location {
	if loc == nil {
		return nil
	}
	copied := *loc
	copied.CardID = cardID
	return &copied
}
