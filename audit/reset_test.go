package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SaurabhJain708/formbricks/pkg/contextx"
)

func operatorReset() ResetRequest {
	return ResetRequest{
		Actor:          Actor{ID: "ops-1", Type: ActorUser},
		OrganizationID: "o1",
		Reason:         "restored from backup after storage incident",
		ChangeTicket:   "CHG-1042",
	}
}

func TestResetChain_StartsVerifiableSegment(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	before := recordN(t, f.rec, 3)

	reset, err := f.rec.ResetChain(ctx, operatorReset())
	require.NoError(t, err)

	assert.True(t, reset.ChainStart)
	assert.Equal(t, GenesisHash, reset.PreviousHash)
	assert.Equal(t, ActionChainReset, reset.Action)
	assert.Equal(t, uint64(4), reset.Sequence)
	prevHead, _ := reset.Changes.Get("previousHead")
	assert.Equal(t, before[2].IntegrityHash, prevHead)
	ticket, _ := reset.Changes.Get("changeTicket")
	assert.Equal(t, "CHG-1042", ticket)

	next, err := f.rec.Record(ctx, webhookCreated())
	require.NoError(t, err)
	assert.Equal(t, reset.IntegrityHash, next.PreviousHash)
	assert.False(t, next.ChainStart)

	res := NewVerifier(f.hash, quietLogger(), nil).Verify(f.chain(t, "o1"))
	assert.True(t, res.Valid, res.String())
	assert.Equal(t, 5, res.Checked)
}

func TestResetChain_TicketFromContext(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	recordN(t, f.rec, 1)

	req := operatorReset()
	req.ChangeTicket = ""
	ctx := contextx.WithChangeTicket(context.Background(), "CHG-7")

	reset, err := f.rec.ResetChain(ctx, req)
	require.NoError(t, err)
	ticket, _ := reset.Changes.Get("changeTicket")
	assert.Equal(t, "CHG-7", ticket)
}

func TestResetChain_Guards(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("empty chain", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		_, err := f.rec.ResetChain(ctx, operatorReset())
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})

	t.Run("reason required", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		recordN(t, f.rec, 1)
		req := operatorReset()
		req.Reason = ""
		_, err := f.rec.ResetChain(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})

	t.Run("stale expected head", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		entries := recordN(t, f.rec, 2)
		req := operatorReset()
		req.ExpectedHash = entries[0].IntegrityHash

		_, err := f.rec.ResetChain(ctx, req)
		assert.ErrorIs(t, err, ErrChainConflict)
		assert.Len(t, f.chain(t, "o1"), 2)
	})

	t.Run("matching expected head", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		entries := recordN(t, f.rec, 2)
		req := operatorReset()
		req.ExpectedHash = entries[1].IntegrityHash

		_, err := f.rec.ResetChain(ctx, req)
		assert.NoError(t, err)
	})

	t.Run("concurrent writer wins", func(t *testing.T) {
		t.Parallel()
		heads := &hookTracker{HeadTracker: NewMemoryHeadTracker()}
		f := newFixture(t, func(o *Options) { o.Heads = heads })
		// Pre-fire the hook so recordN does not trigger it.
		heads.fired.Store(true)
		recordN(t, f.rec, 1)

		heads.fired.Store(false)
		heads.beforeFirst = func() {
			_, err := f.rec.Record(ctx, webhookCreated())
			require.NoError(t, err)
		}

		_, err := f.rec.ResetChain(ctx, operatorReset())
		assert.ErrorIs(t, err, ErrChainConflict)
		assert.True(t, NewVerifier(f.hash, quietLogger(), nil).Verify(f.chain(t, "o1")).Valid)
	})
}

func TestVerify_ResetMustPointAtPreviousHead(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	recordN(t, f.rec, 2)
	_, err := f.rec.ResetChain(ctx, operatorReset())
	require.NoError(t, err)

	chain := f.chain(t, "o1")
	// Dropping the entry before the reset leaves previousHead dangling.
	cut := []Entry{chain[0], chain[2]}
	res := NewVerifier(f.hash, quietLogger(), nil).Verify(cut)
	assert.Equal(t, Broken(1, ReasonLinkMismatch), res)

	// A reset is a valid start for a segment read on its own.
	res = NewVerifier(f.hash, quietLogger(), nil).Verify(chain[2:])
	assert.True(t, res.Valid)
}
