package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SaurabhJain708/formbricks/crypto"
)

const keyInfo = "formbricks/audit-log/integrity/v1"

// Hasher computes integrity hashes. The HMAC key is derived from the
// configured encryption key, so hashes cannot be forged without it.
type Hasher struct {
	key []byte
}

// NewHasher derives the integrity key from the configured secret.
func NewHasher(secret string) (*Hasher, error) {
	key, err := crypto.DeriveKey([]byte(secret), keyInfo, sha256.Size)
	if err != nil {
		return nil, fmt.Errorf("audit: integrity key: %w", err)
	}
	return &Hasher{key: key}, nil
}

// canonicalEntry fixes the field order of the hashed content.
// IntegrityHash is excluded; PreviousHash is appended after the document.
type canonicalEntry struct {
	ChainID        string         `json:"chainId"`
	Sequence       uint64         `json:"sequence"`
	Timestamp      string         `json:"timestamp"`
	ActorID        string         `json:"actorId"`
	ActorType      ActorType      `json:"actorType"`
	Action         Action         `json:"action"`
	Target         *Target        `json:"target"`
	OrganizationID string         `json:"organizationId"`
	Status         Status         `json:"status"`
	Changes        map[string]any `json:"changes"`
	IPAddress      string         `json:"ipAddress"`
	APIURL         string         `json:"apiUrl"`
	EventID        string         `json:"eventId"`
	ChainStart     bool           `json:"chainStart"`
}

// Canonical returns the deterministic serialization of an entry's content.
// Changes keys are sorted; the timestamp is rendered in UTC.
func Canonical(e Entry) ([]byte, error) {
	c := canonicalEntry{
		ChainID:        e.ChainID,
		Sequence:       e.Sequence,
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
		ActorID:        e.Actor.ID,
		ActorType:      e.Actor.Type,
		Action:         e.Action,
		Target:         e.Target,
		OrganizationID: e.OrganizationID,
		Status:         e.Status,
		Changes:        e.Changes.sorted(),
		IPAddress:      e.IPAddress,
		APIURL:         e.APIURL,
		EventID:        e.EventID,
		ChainStart:     e.ChainStart,
	}
	return json.Marshal(c)
}

// Hash returns hex(HMAC-SHA256(key, canonical(e) || e.PreviousHash)).
func (h *Hasher) Hash(e Entry) (string, error) {
	if e.PreviousHash == "" {
		return "", errors.New("audit: previous hash is empty")
	}
	doc, err := Canonical(e)
	if err != nil {
		return "", fmt.Errorf("audit: canonical form: %w", err)
	}

	mac := hmac.New(sha256.New, h.key)
	mac.Write(doc)
	mac.Write([]byte(e.PreviousHash))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Matches recomputes the hash of e and compares it with the stored value.
func (h *Hasher) Matches(e Entry) bool {
	sum, err := h.Hash(e)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(sum), []byte(e.IntegrityHash))
}
