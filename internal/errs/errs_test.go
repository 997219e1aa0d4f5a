package errs

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		target error
		kind   Kind
	}{
		{name: "not found", err: NotFound("board %s not found", "b1"), target: ErrNotFound, kind: KindNotFound},
		{name: "forbidden", err: Forbidden("not a collaborator"), target: ErrForbidden, kind: KindForbidden},
		{name: "capacity", err: CapacityExceeded("too many days"), target: ErrCapacityExceeded, kind: KindCapacityExceeded},
		{name: "validation", err: Validation("bad index"), target: ErrValidation, kind: KindValidation},
		{name: "storage", err: Storage("insert card", sql.ErrConnDone), target: ErrStorage, kind: KindStorage},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tc.err)
			assert.ErrorIs(t, wrapped, tc.target)
			assert.Equal(t, tc.kind, KindOf(wrapped))
		})
	}
}

func TestStorageKeepsTypedErrors(t *testing.T) {
	original := NotFound("card missing")
	assert.Same(t, original, Storage("move card", original))
	assert.Nil(t, Storage("noop", nil))
}

func TestStorageUnwrapsCause(t *testing.T) {
	err := Storage("commit", sql.ErrTxDone)
	assert.True(t, errors.Is(err, sql.ErrTxDone))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestKindOfUntyped(t *testing.T) {
	assert.Equal(t, KindStorage, KindOf(errors.New("boom")))
	assert.Equal(t, "", MessageOf(errors.New("boom")))
	assert.Equal(t, "bad time", MessageOf(Validation("bad time")))
}
