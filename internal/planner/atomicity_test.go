package planner_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itinera/api/internal/errs"
	"itinera/api/internal/planner"
	"itinera/api/internal/store"
)

// failOn installs a row trigger that aborts the statement it guards, so a
// multi-step operation fails part way through. event is "INSERT" or
// "UPDATE OF <column>"; when is an optional condition over OLD and NEW.
func (f *fixture) failOn(t *testing.T, name, table, event, when string) {
	t.Helper()
	db := f.store.DB()

	var stmts []string
	drop := `DROP TRIGGER IF EXISTS ` + name
	switch db.Dialect {
	case store.DialectPostgres:
		stmts = append(stmts, `CREATE OR REPLACE FUNCTION forced_failure() RETURNS trigger AS $$
			BEGIN RAISE EXCEPTION 'forced failure'; END $$ LANGUAGE plpgsql`)
		guard := ""
		if when != "" {
			guard = fmt.Sprintf(" WHEN (%s)", when)
		}
		stmts = append(stmts, fmt.Sprintf(`CREATE TRIGGER %s BEFORE %s ON %s FOR EACH ROW%s EXECUTE FUNCTION forced_failure()`,
			name, event, table, guard))
		drop += ` ON ` + table
	default:
		guard := ""
		if when != "" {
			guard = " WHEN " + when
		}
		stmts = append(stmts, fmt.Sprintf(`CREATE TRIGGER %s BEFORE %s ON %s%s BEGIN SELECT RAISE(ABORT, 'forced failure'); END`,
			name, event, table, guard))
	}
	for _, stmt := range stmts {
		_, err := db.ExecContext(f.ctx, stmt)
		require.NoError(t, err)
	}
	t.Cleanup(func() {
		_, _ = db.ExecContext(f.ctx, drop)
	})
}

func TestMoveBoardRollsBackWhenFinalStepFails(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		tpl, _ := f.template(t, "alice")
		for i := 0; i < 3; i++ {
			_, err := f.engine.InsertBoard(f.ctx, tpl.ID, planner.End)
			require.NoError(t, err)
		}
		before := f.dayOrder(t, tpl.ID)

		// Parking on the sentinel and shifting succeed; leaving the sentinel fails.
		f.failOn(t, "fail_unpark", "boards", "UPDATE OF day_number", "OLD.day_number = 0")

		_, err := f.engine.MoveBoard(f.ctx, before[0], 4)
		require.Error(t, err)
		assert.Equal(t, errs.KindStorage, errs.KindOf(err))
		assert.Equal(t, before, f.dayOrder(t, tpl.ID))
	})
}

func TestInsertBoardRollsBackShift(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		tpl, _ := f.template(t, "alice")
		_, err := f.engine.InsertBoard(f.ctx, tpl.ID, planner.End)
		require.NoError(t, err)
		before := f.dayOrder(t, tpl.ID)

		f.failOn(t, "fail_board_insert", "boards", "INSERT", "")

		_, err = f.engine.InsertBoard(f.ctx, tpl.ID, planner.At(1))
		require.Error(t, err)
		assert.Equal(t, before, f.dayOrder(t, tpl.ID))
	})
}

func TestCrossBoardMoveRollsBackAfterDelete(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		tpl, day1 := f.template(t, "alice")
		day2, err := f.engine.InsertBoard(f.ctx, tpl.ID, planner.End)
		require.NoError(t, err)
		cards := f.addCards(t, day1.ID, "A", "boom", "C")
		f.addCards(t, day2.ID, "X", "Y")

		// The destination insert is the last step, after the source row is gone
		// and both boards have been renumbered.
		f.failOn(t, "fail_card_insert", "cards", "INSERT", "NEW.content = 'boom'")

		_, err = f.engine.MoveCard(f.ctx, cards[1].ID, day2.ID, 0)
		require.Error(t, err)

		assert.Equal(t, []string{"A", "boom", "C"}, f.contentOrder(t, day1.ID))
		assert.Equal(t, []string{"X", "Y"}, f.contentOrder(t, day2.ID))
	})
}

func TestDeleteCardRollsBackWhenCompactionFails(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		_, board := f.template(t, "alice")
		cards := f.addCards(t, board.ID, "a", "b", "c")

		f.failOn(t, "fail_compact", "cards", "UPDATE OF order_index", "")

		_, err := f.engine.DeleteCard(f.ctx, cards[0].ID)
		require.Error(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, f.contentOrder(t, board.ID))
	})
}

func TestCopyTemplateRollsBackPartialCopy(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		tpl, board := f.template(t, "alice")
		f.addCards(t, board.ID, "a", "boom", "c")

		f.failOn(t, "fail_copy", "cards", "INSERT", "NEW.content = 'boom'")

		_, err := f.engine.CopyTemplate(f.ctx, "bob", tpl.ID, "")
		require.Error(t, err)

		owned, err := f.store.ListTemplatesForUser(f.ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, owned)

		source, err := f.store.GetTemplate(f.ctx, tpl.ID)
		require.NoError(t, err)
		assert.Zero(t, source.SharedCount)
	})
}
