package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/SaurabhJain708/formbricks/pkg/contextx"
)

// TargetAuditChain is the target type of chain reset entries.
const TargetAuditChain = "auditChain"

// ResetRequest asks for a new chain segment. Resets are privileged and are
// themselves recorded as the first entry of the new segment.
type ResetRequest struct {
	Actor          Actor
	OrganizationID string `validate:"required"`
	Reason         string `validate:"required,max=1024"`
	ChangeTicket   string `validate:"omitempty,max=128"`
	// ExpectedHash, when set, must equal the current head hash. It lets the
	// operator pin the reset to the head they actually inspected.
	ExpectedHash string `validate:"omitempty,len=64,hexadecimal"`
}

// ResetChain starts a new segment on the organization's chain. The reset entry
// has chainStart=true, previousHash=GenesisHash and records the head it
// replaced under changes.previousHead, so a verifier can still link the
// segments. The swap is attempted once against the observed head; a concurrent
// writer makes it fail with ErrChainConflict.
func (r *Recorder) ResetChain(ctx context.Context, req ResetRequest) (Entry, error) {
	if r.disabled {
		return Entry{}, ErrDisabled
	}

	chainID := req.OrganizationID
	if err := r.validate.StructCtx(ctx, req); err != nil {
		return Entry{}, r.escalate(ctx, &RecordError{Kind: ErrInvalidEvent, ChainID: chainID, Err: err})
	}

	head, err := r.heads.CurrentHead(ctx, chainID)
	if err != nil {
		return Entry{}, r.escalate(ctx, &RecordError{Kind: ErrRecordDelivery, ChainID: chainID, Attempts: 1, Err: fmt.Errorf("read head: %w", err)})
	}
	if head.IsEmpty() {
		return Entry{}, r.escalate(ctx, &RecordError{Kind: ErrInvalidEvent, ChainID: chainID, Err: errors.New("chain has no entries to reset")})
	}
	if req.ExpectedHash != "" && req.ExpectedHash != head.Hash {
		return Entry{}, r.escalate(ctx, &RecordError{Kind: ErrChainConflict, ChainID: chainID, Attempts: 1, Err: errors.New("head moved since it was inspected")})
	}

	changes := Changes{
		{Name: "previousHead", Value: head.Hash},
		{Name: "previousSequence", Value: json.Number(strconv.FormatUint(head.Sequence, 10))},
		{Name: "reason", Value: req.Reason},
	}
	if ticket := firstNonEmpty(req.ChangeTicket, contextx.GetChangeTicket(ctx)); ticket != "" {
		changes = append(changes, Field{Name: "changeTicket", Value: ticket})
	}

	entry := Entry{
		ChainID:        chainID,
		Sequence:       head.Sequence + 1,
		Timestamp:      r.stamp(),
		Actor:          req.Actor,
		Action:         ActionChainReset,
		Target:         &Target{ID: chainID, Type: TargetAuditChain},
		OrganizationID: req.OrganizationID,
		Status:         StatusSuccess,
		Changes:        changes,
		IPAddress:      r.clientIP(ctx, ""),
		APIURL:         contextx.GetAPIURL(ctx),
		PreviousHash:   GenesisHash,
		ChainStart:     true,
	}
	if entry.IntegrityHash, err = r.hasher.Hash(entry); err != nil {
		return Entry{}, r.escalate(ctx, &RecordError{Kind: ErrInvalidEvent, ChainID: chainID, Err: err})
	}

	err = r.heads.Advance(ctx, chainID, head, HeadOf(entry))
	switch {
	case err == nil:
	case errors.Is(err, ErrChainConflict):
		r.metrics.conflict()
		return Entry{}, r.escalate(ctx, &RecordError{Kind: ErrChainConflict, ChainID: chainID, Attempts: 1, Err: err})
	default:
		if !r.advanced(ctx, chainID, HeadOf(entry)) {
			return Entry{}, r.escalate(ctx, &RecordError{Kind: ErrRecordDelivery, ChainID: chainID, Attempts: 1, Err: fmt.Errorf("advance head: %w", err)})
		}
	}

	r.logger.WarnContext(ctx, "audit chain reset",
		"chain_id", chainID,
		"actor_id", req.Actor.ID,
		"previous_sequence", head.Sequence,
		"previous_head", head.Hash,
	)
	return r.persist(ctx, entry, 1)
}

// isReset reports whether e is a legitimate segment start following prev.
func isReset(e, prev Entry) bool {
	if e.Action != ActionChainReset || e.PreviousHash != GenesisHash {
		return false
	}
	v, ok := e.Changes.Get("previousHead")
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && s == prev.IntegrityHash
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
