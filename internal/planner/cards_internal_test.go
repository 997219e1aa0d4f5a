package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itinera/api/internal/errs"
	"itinera/api/internal/store"
	"itinera/api/internal/store/storetest"
)

func TestStillOnBoard(t *testing.T) {
	card := store.Card{ID: "c1", BoardID: "b2"}

	assert.NoError(t, stillOnBoard(card, "b2"))

	err := stillOnBoard(card, "b1")
	require.ErrorIs(t, err, errs.ErrValidation)
	assert.Contains(t, err.Error(), "moved by another request")
}

func TestLockCardBoardReturnsLockedCard(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	engine := NewEngine(st, Options{})
	_, board, err := engine.CreateTemplate(ctx, "alice", "Porto", store.PrivacyPrivate)
	require.NoError(t, err)
	card, err := engine.InsertCard(ctx, board.ID, End, CardFields{Content: "tram"})
	require.NoError(t, err)

	err = st.WithTx(ctx, func(tx *store.Tx) error {
		locked, err := lockCardBoard(ctx, tx, card.ID, time.Now().UTC())
		if err != nil {
			return err
		}
		assert.Equal(t, board.ID, locked.BoardID)
		assert.Equal(t, "tram", locked.Content)
		return nil
	})
	require.NoError(t, err)

	err = st.WithTx(ctx, func(tx *store.Tx) error {
		_, err := lockCardBoard(ctx, tx, "missing", time.Now().UTC())
		return err
	})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
