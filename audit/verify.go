package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Reason explains why verification stopped.
type Reason string

const (
	ReasonHashMismatch      Reason = "hash_mismatch"
	ReasonLinkMismatch      Reason = "link_mismatch"
	ReasonMissingChainStart Reason = "missing_chain_start"
)

// VerificationResult is either Valid or the first break found.
type VerificationResult struct {
	Valid   bool   `json:"valid"`
	Index   int    `json:"index"`
	Reason  Reason `json:"reason,omitempty"`
	Checked int    `json:"checked"`
	// Sequence of the entry at Index, when the chain was read from a store.
	Sequence uint64 `json:"sequence,omitempty"`
}

func Valid(checked int) VerificationResult {
	return VerificationResult{Valid: true, Checked: checked}
}

func Broken(index int, r Reason) VerificationResult {
	return VerificationResult{Index: index, Reason: r, Checked: index + 1}
}

func (v VerificationResult) String() string {
	if v.Valid {
		return fmt.Sprintf("valid (%d entries)", v.Checked)
	}
	return fmt.Sprintf("broken at %d: %s", v.Index, v.Reason)
}

const DefaultPageSize = 500

// Verifier replays chains. It only reads and never needs a lock: stored
// entries are immutable, so any prefix it sees is consistent.
type Verifier struct {
	hasher   *Hasher
	pageSize int
	logger   *slog.Logger
	metrics  *Metrics
}

func NewVerifier(hasher *Hasher, logger *slog.Logger, metrics *Metrics) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		hasher:   hasher,
		pageSize: DefaultPageSize,
		logger:   logger.With("component", "audit_verifier"),
		metrics:  metrics,
	}
}

// WithPageSize sets how many entries VerifyChain reads per store round trip.
func (v *Verifier) WithPageSize(n int) *Verifier {
	if n > 0 {
		v.pageSize = n
	}
	return v
}

// Verify walks an ordered chain segment and reports the first divergence.
func (v *Verifier) Verify(entries []Entry) VerificationResult {
	var prev *Entry
	for i := range entries {
		if r, ok := v.check(entries[i], prev); !ok {
			return Broken(i, r)
		}
		prev = &entries[i]
	}
	return Valid(len(entries))
}

// check validates one entry against its predecessor (nil for the first one).
// Linkage is checked before content so an altered previousHash is reported
// as a link break.
func (v *Verifier) check(e Entry, prev *Entry) (Reason, bool) {
	if prev == nil {
		if !e.ChainStart || e.PreviousHash != GenesisHash {
			return ReasonMissingChainStart, false
		}
	} else if e.PreviousHash != prev.IntegrityHash {
		// Only a segment start may point at genesis instead of its predecessor.
		if !e.ChainStart || e.PreviousHash != GenesisHash {
			return ReasonLinkMismatch, false
		}
	}

	if !v.hasher.Matches(e) {
		return ReasonHashMismatch, false
	}

	if prev != nil && e.ChainStart && !isReset(e, *prev) {
		return ReasonLinkMismatch, false
	}
	return "", true
}

// VerifyChain streams a stored chain page by page with the same semantics as
// Verify. Index counts entries from the start of the chain.
func (v *Verifier) VerifyChain(ctx context.Context, reader Reader, chainID string) (VerificationResult, error) {
	var (
		prev    *Entry
		index   int
		after   uint64
		checked int
	)
	for {
		page, err := reader.ReadChain(ctx, chainID, after, v.pageSize)
		if err != nil {
			return VerificationResult{}, fmt.Errorf("audit: read chain %s: %w", chainID, err)
		}
		for i := range page {
			if r, ok := v.check(page[i], prev); !ok {
				res := Broken(index, r)
				res.Sequence = page[i].Sequence
				v.metrics.verificationBreak(r)
				v.logger.WarnContext(ctx, "audit chain verification break",
					"chain_id", chainID,
					"index", index,
					"sequence", page[i].Sequence,
					"reason", r,
				)
				return res, nil
			}
			e := page[i]
			prev = &e
			index++
			checked++
		}
		if len(page) < v.pageSize {
			return Valid(checked), nil
		}
		after = page[len(page)-1].Sequence
	}
}

// HeadStatus compares the head tracker against the last stored entry.
type HeadStatus struct {
	Head      Head `json:"head"`
	LastEntry Head `json:"lastEntry"`
	InSync    bool `json:"inSync"`
}

// CheckHead reports whether the tracker head matches the last stored entry.
// A head ahead of the store by an in-flight append looks the same as a lost
// append; callers should re-check before treating it as corruption.
func (v *Verifier) CheckHead(ctx context.Context, heads HeadTracker, reader Reader, chainID string) (HeadStatus, error) {
	head, err := heads.CurrentHead(ctx, chainID)
	if err != nil {
		return HeadStatus{}, fmt.Errorf("audit: read head %s: %w", chainID, err)
	}

	last := EmptyHead
	after := uint64(0)
	if head.Sequence > 1 {
		after = head.Sequence - 2
	}
	for {
		page, err := reader.ReadChain(ctx, chainID, after, v.pageSize)
		if err != nil {
			return HeadStatus{}, fmt.Errorf("audit: read chain %s: %w", chainID, err)
		}
		if len(page) > 0 {
			last = HeadOf(page[len(page)-1])
			after = last.Sequence
		}
		if len(page) < v.pageSize {
			break
		}
	}

	status := HeadStatus{Head: head, LastEntry: last, InSync: head == last}
	if !status.InSync {
		v.logger.WarnContext(ctx, "audit chain head differs from store",
			"chain_id", chainID,
			"head_sequence", head.Sequence,
			"stored_sequence", last.Sequence,
		)
	}
	return status, nil
}

// ErrBroken is returned by callers that turn a broken result into an error.
var ErrBroken = errors.New("audit: verification break")

// Err returns nil for a valid result and an error wrapping ErrBroken otherwise.
func (v VerificationResult) Err() error {
	if v.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrBroken, v)
}
