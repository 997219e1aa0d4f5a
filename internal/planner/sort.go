package planner

import (
	"context"
	"sort"

	"itinera/api/internal/store"
)

// SortCards orders the board's unlocked cards by start time, untimed cards
// last in their current relative order. Locked cards keep their index and the
// sorted cards fill the remaining slots.
func (e *Engine) SortCards(ctx context.Context, boardID string) ([]store.Card, error) {
	var result []store.Card
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		now := e.now()
		if err := tx.TouchBoard(ctx, boardID, now); err != nil {
			return err
		}
		cards, err := tx.ListCards(ctx, boardID)
		if err != nil {
			return err
		}

		ordered := arrange(cards)
		for index, card := range ordered {
			if card.OrderIndex == index {
				continue
			}
			if err := tx.SetCardOrder(ctx, card.ID, index, now); err != nil {
				return err
			}
			ordered[index].OrderIndex = index
			ordered[index].UpdatedAt = now
		}
		result = ordered
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// arrange returns cards in their sorted slot order. cards must be ordered by
// index and dense.
func arrange(cards []store.Card) []store.Card {
	slots := make([]store.Card, len(cards))
	filled := make([]bool, len(cards))
	var free []store.Card

	for _, card := range cards {
		if card.Locked && card.OrderIndex >= 0 && card.OrderIndex < len(cards) {
			slots[card.OrderIndex] = card
			filled[card.OrderIndex] = true
			continue
		}
		free = append(free, card)
	}

	sort.SliceStable(free, func(i, j int) bool {
		a, b := free[i].StartTime, free[j].StartTime
		switch {
		case a == "":
			return false
		case b == "":
			return true
		default:
			return a < b
		}
	})

	next := 0
	for index := range slots {
		if filled[index] {
			continue
		}
		slots[index] = free[next]
		next++
	}
	return slots
}
