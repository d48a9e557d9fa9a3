package store

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/payoutd/internal/payments"
	"github.com/terminal-bench/payoutd/internal/payout"
	"github.com/terminal-bench/payoutd/internal/pipeline"
)

// both backends implement both consumer contracts
var (
	_ pipeline.Store = (*Memory)(nil)
	_ pipeline.Store = (*Postgres)(nil)
	_ payments.Store = (*Memory)(nil)
	_ payments.Store = (*Postgres)(nil)
)

const testDest = "rDarPNJEpCnpBZSfmcquydockkePkjPGA2"

func insertN(t *testing.T, s *Memory, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id, err := s.InsertPending(context.Background(), testDest, payout.Native(decimal.NewFromInt(10)), "")
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestMemoryLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("should insert pending payouts with ascending ids", func(t *testing.T) {
		s := NewMemory()
		ids := insertN(t, s, 3)
		assert.Equal(t, []int64{1, 2, 3}, ids)

		p, err := s.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, payout.StatePending, p.State)
		assert.Nil(t, p.Sequence)
	})

	t.Run("should walk the full lifecycle", func(t *testing.T) {
		s := NewMemory()
		insertN(t, s, 1)

		require.NoError(t, s.MarkSigned(ctx, 1, 42, []byte("artifact")))
		p, _ := s.Get(ctx, 1)
		assert.Equal(t, payout.StateSigned, p.State)
		require.NotNil(t, p.Sequence)
		assert.Equal(t, uint64(42), *p.Sequence)

		require.NoError(t, s.MarkSubmitted(ctx, 1))
		p, _ = s.Get(ctx, 1)
		assert.Equal(t, payout.StateSubmitted, p.State)
		assert.NotNil(t, p.SubmittedAt)

		require.NoError(t, s.MarkConfirmed(ctx, 1))
		p, _ = s.Get(ctx, 1)
		assert.Equal(t, payout.StateConfirmed, p.State)
		assert.NotNil(t, p.ConfirmedAt)
	})

	t.Run("should refuse transitions from the wrong state", func(t *testing.T) {
		s := NewMemory()
		insertN(t, s, 1)

		assert.ErrorIs(t, s.MarkSubmitted(ctx, 1), payout.ErrInvalidTransition)
		assert.ErrorIs(t, s.MarkConfirmed(ctx, 1), payout.ErrInvalidTransition)

		require.NoError(t, s.MarkSigned(ctx, 1, 1, []byte("a")))
		assert.ErrorIs(t, s.MarkSigned(ctx, 1, 2, []byte("b")), payout.ErrInvalidTransition)
	})

	t.Run("should keep confirmed and fatal rows terminal", func(t *testing.T) {
		s := NewMemory()
		insertN(t, s, 2)

		require.NoError(t, s.MarkSigned(ctx, 1, 1, []byte("a")))
		require.NoError(t, s.MarkSubmitted(ctx, 1))
		require.NoError(t, s.MarkConfirmed(ctx, 1))
		assert.Error(t, s.MarkError(ctx, 1, "late", false))
		assert.Error(t, s.MarkAborted(ctx, 1))

		require.NoError(t, s.MarkError(ctx, 2, "boom", true))
		assert.Error(t, s.MarkError(ctx, 2, "again", false))
	})

	t.Run("should allow promoting a non-fatal error to fatal", func(t *testing.T) {
		s := NewMemory()
		insertN(t, s, 1)

		require.NoError(t, s.MarkError(ctx, 1, "reject", false))
		require.NoError(t, s.MarkError(ctx, 1, "wedged", true))
		p, _ := s.Get(ctx, 1)
		assert.True(t, p.Fatal)
	})

	t.Run("should allow aborting a non-fatal error row", func(t *testing.T) {
		s := NewMemory()
		insertN(t, s, 1)

		require.NoError(t, s.MarkError(ctx, 1, "boom", true))
		require.NoError(t, s.MarkAborted(ctx, 1))
		aborted, err := s.IsAborted(ctx, 1)
		require.NoError(t, err)
		assert.True(t, aborted)
	})
}

func TestMemoryListings(t *testing.T) {
	ctx := context.Background()

	t.Run("should list unsigned payouts lowest id first", func(t *testing.T) {
		s := NewMemory()
		insertN(t, s, 5)
		require.NoError(t, s.MarkSigned(ctx, 1, 1, []byte("a")))

		pending, err := s.ListUnsigned(ctx, 2)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, int64(2), pending[0].ID)
		assert.Equal(t, int64(3), pending[1].ID)
	})

	t.Run("should list signed and submitted windows in id order", func(t *testing.T) {
		s := NewMemory()
		insertN(t, s, 3)
		for i, id := range []int64{1, 2, 3} {
			require.NoError(t, s.MarkSigned(ctx, id, uint64(100+i), []byte("a")))
		}
		require.NoError(t, s.MarkSubmitted(ctx, 1))

		signed, err := s.ListSignedUnsubmitted(ctx)
		require.NoError(t, err)
		require.Len(t, signed, 2)
		assert.Equal(t, int64(2), signed[0].ID)

		submitted, err := s.ListSubmittedUnconfirmed(ctx)
		require.NoError(t, err)
		require.Len(t, submitted, 1)
		assert.Equal(t, int64(1), submitted[0].ID)
	})
}

func TestMemorySequenceBookkeeping(t *testing.T) {
	ctx := context.Background()

	t.Run("should report no highest sequence on an empty store", func(t *testing.T) {
		s := NewMemory()
		_, ok, err := s.HighestSequence(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("should track the highest stamped sequence", func(t *testing.T) {
		s := NewMemory()
		insertN(t, s, 3)
		require.NoError(t, s.MarkSigned(ctx, 1, 500, []byte("a")))
		require.NoError(t, s.MarkSigned(ctx, 2, 501, []byte("b")))

		highest, ok, err := s.HighestSequence(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(501), highest)
	})

	t.Run("should ignore demoted rows", func(t *testing.T) {
		s := NewMemory()
		insertN(t, s, 1)
		require.NoError(t, s.MarkSigned(ctx, 1, 500, []byte("a")))
		_, err := s.ClearSignedFrom(ctx, 1)
		require.NoError(t, err)

		_, ok, err := s.HighestSequence(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMemoryClearSignedFrom(t *testing.T) {
	ctx := context.Background()

	t.Run("should demote the whole trailing window", func(t *testing.T) {
		s := NewMemory()
		insertN(t, s, 4)
		for i, id := range []int64{1, 2, 3} {
			require.NoError(t, s.MarkSigned(ctx, id, uint64(100+i), []byte("a")))
		}
		require.NoError(t, s.MarkSubmitted(ctx, 2))

		cleared, err := s.ClearSignedFrom(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), cleared)

		// row 1 untouched, rows 2 and 3 demoted with sequence and artifact gone
		p1, _ := s.Get(ctx, 1)
		assert.Equal(t, payout.StateSigned, p1.State)
		for _, id := range []int64{2, 3} {
			p, _ := s.Get(ctx, id)
			assert.Equal(t, payout.StatePending, p.State, "row %d", id)
			assert.Nil(t, p.Sequence)
			assert.Nil(t, p.Artifact)
			assert.Nil(t, p.SubmittedAt)
		}
	})

	t.Run("should leave confirmed and errored rows alone", func(t *testing.T) {
		s := NewMemory()
		insertN(t, s, 3)
		require.NoError(t, s.MarkSigned(ctx, 1, 100, []byte("a")))
		require.NoError(t, s.MarkSubmitted(ctx, 1))
		require.NoError(t, s.MarkConfirmed(ctx, 1))
		require.NoError(t, s.MarkError(ctx, 2, "reject", false))
		require.NoError(t, s.MarkSigned(ctx, 3, 101, []byte("c")))

		cleared, err := s.ClearSignedFrom(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), cleared)

		p1, _ := s.Get(ctx, 1)
		assert.Equal(t, payout.StateConfirmed, p1.State)
		p2, _ := s.Get(ctx, 2)
		assert.Equal(t, payout.StateError, p2.State)
	})
}
