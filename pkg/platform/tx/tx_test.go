package tx

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type refusingBeginner struct{ calls int }

func (b *refusingBeginner) BeginTx(context.Context, *sql.TxOptions) (*sql.Tx, error) {
	b.calls++
	return nil, errors.New("connection refused")
}

func TestFrom(t *testing.T) {
	_, ok := From(context.Background())
	assert.False(t, ok)

	assert.Equal(t, context.Background(), WithTx(context.Background(), nil))

	outer := &sql.Tx{}
	got, ok := From(WithTx(context.Background(), outer))
	require.True(t, ok)
	assert.Same(t, outer, got)
}

func TestRun(t *testing.T) {
	t.Run("joins an ambient transaction", func(t *testing.T) {
		db := &refusingBeginner{}
		outer := &sql.Tx{}
		var seen *sql.Tx
		err := Run(WithTx(context.Background(), outer), db, func(_ context.Context, tx *sql.Tx) error {
			seen = tx
			return nil
		})
		require.NoError(t, err)
		assert.Same(t, outer, seen)
		assert.Zero(t, db.calls)
	})

	t.Run("begin failure skips fn", func(t *testing.T) {
		called := false
		err := Run(context.Background(), &refusingBeginner{}, func(context.Context, *sql.Tx) error {
			called = true
			return nil
		})
		require.Error(t, err)
		assert.False(t, called)
	})
}
