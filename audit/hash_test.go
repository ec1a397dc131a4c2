package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SaurabhJain708/formbricks/crypto"
)

func sampleEntry() Entry {
	return Entry{
		ChainID:        "o1",
		Sequence:       7,
		Timestamp:      time.Date(2026, 5, 4, 3, 2, 1, 654321000, time.UTC),
		Actor:          Actor{ID: "u1", Type: ActorUser},
		Action:         ActionWebhookUpdated,
		Target:         &Target{ID: "w1", Type: "webhook"},
		OrganizationID: "o1",
		Status:         StatusSuccess,
		Changes:        Changes{{Name: "url", Value: "https://x"}, {Name: "name", Value: "demo"}},
		IPAddress:      PlaceholderIP,
		PreviousHash:   "ab" + GenesisHash[2:],
	}
}

func TestHasher_Deterministic(t *testing.T) {
	t.Parallel()
	h := newTestHasher(t)
	e := sampleEntry()

	first, err := h.Hash(e)
	require.NoError(t, err)
	second, err := h.Hash(e)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	again, err := newTestHasher(t).Hash(e)
	require.NoError(t, err)
	assert.Equal(t, first, again, "same secret, same key")
}

func TestHasher_CanonicalIgnoresPresentationDetails(t *testing.T) {
	t.Parallel()
	h := newTestHasher(t)
	base := sampleEntry()
	want, err := h.Hash(base)
	require.NoError(t, err)

	reordered := base
	reordered.Changes = Changes{base.Changes[1], base.Changes[0]}
	got, err := h.Hash(reordered)
	require.NoError(t, err)
	assert.Equal(t, want, got, "changes key order")

	zoned := base
	zoned.Timestamp = base.Timestamp.In(time.FixedZone("WIB", 7*3600))
	got, err = h.Hash(zoned)
	require.NoError(t, err)
	assert.Equal(t, want, got, "timestamp zone")

	withHash := base
	withHash.IntegrityHash = "ignored"
	got, err = h.Hash(withHash)
	require.NoError(t, err)
	assert.Equal(t, want, got, "integrity hash is not hashed")
}

func TestHasher_InputsThatChangeTheHash(t *testing.T) {
	t.Parallel()
	h := newTestHasher(t)
	base := sampleEntry()
	want, err := h.Hash(base)
	require.NoError(t, err)

	mutations := map[string]func(*Entry){
		"previous hash": func(e *Entry) { e.PreviousHash = GenesisHash },
		"sequence":      func(e *Entry) { e.Sequence++ },
		"chain start":   func(e *Entry) { e.ChainStart = true },
		"no target":     func(e *Entry) { e.Target = nil },
		"api url":       func(e *Entry) { e.APIURL = "/api" },
	}
	for name, mutate := range mutations {
		e := base
		mutate(&e)
		got, err := h.Hash(e)
		require.NoError(t, err)
		assert.NotEqual(t, want, got, name)
	}

	absent := base
	absent.Target = nil
	empty := base
	empty.Target = &Target{}
	absentHash, err := h.Hash(absent)
	require.NoError(t, err)
	emptyHash, err := h.Hash(empty)
	require.NoError(t, err)
	assert.NotEqual(t, absentHash, emptyHash, "absent and empty target")

	other, err := NewHasher("a-completely-different-secret-value-xx")
	require.NoError(t, err)
	got, err := other.Hash(base)
	require.NoError(t, err)
	assert.NotEqual(t, want, got, "key")
}

func TestHasher_Guards(t *testing.T) {
	t.Parallel()

	_, err := NewHasher("short")
	assert.ErrorIs(t, err, crypto.ErrWeakSecret)

	e := sampleEntry()
	e.PreviousHash = ""
	_, err = newTestHasher(t).Hash(e)
	assert.Error(t, err)
	assert.False(t, newTestHasher(t).Matches(e))
}

func TestHead_StringRoundTrip(t *testing.T) {
	t.Parallel()

	h := Head{Sequence: 42, Hash: GenesisHash}
	back, err := ParseHead(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, back)

	for _, bad := range []string{"", "42", "x:abc", "42:"} {
		_, err := ParseHead(bad)
		assert.Error(t, err, bad)
	}
}
