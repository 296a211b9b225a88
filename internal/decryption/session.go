package decryption

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// DefaultDurationDays is how long a decryption session stays valid.
const DefaultDurationDays = 30

// publicKeyBytes sizes the random session token (2000 hex digits).
const publicKeyBytes = 1000

// SessionContext is fixed for the lifetime of a running service and is
// bound into every decryption challenge.
type SessionContext struct {
	PublicKey       string `json:"public_key"`
	ContractAddress string `json:"contract_address"`
	NetworkID       int64  `json:"network_id"`
	StartTimestamp  int64  `json:"start_timestamp"`
	DurationDays    int    `json:"duration_days"`
}

// NewSession bootstraps a session context at startup with a fresh random
// public-key token.
func NewSession(contractAddress string, networkID int64, now time.Time, durationDays int) (SessionContext, error) {
	if durationDays <= 0 {
		durationDays = DefaultDurationDays
	}
	token := make([]byte, publicKeyBytes)
	if _, err := rand.Read(token); err != nil {
		return SessionContext{}, fmt.Errorf("generate session public key: %w", err)
	}
	return SessionContext{
		PublicKey:       "0x" + hex.EncodeToString(token),
		ContractAddress: contractAddress,
		NetworkID:       networkID,
		StartTimestamp:  now.Unix(),
		DurationDays:    durationDays,
	}, nil
}

// Challenge is the exact message a viewer signs to unlock decryption.
func (s SessionContext) Challenge() string {
	var b strings.Builder
	fmt.Fprintf(&b, "publickey:%s\n", s.PublicKey)
	fmt.Fprintf(&b, "contractAddresses:%s\n", s.ContractAddress)
	fmt.Fprintf(&b, "contractsChainId:%d\n", s.NetworkID)
	fmt.Fprintf(&b, "startTimestamp:%d\n", s.StartTimestamp)
	fmt.Fprintf(&b, "durationDays:%d", s.DurationDays)
	return b.String()
}

// BoundChallenge extends Challenge with the record and requester so a
// signature cannot be replayed against another record or by another viewer.
func (s SessionContext) BoundChallenge(recordID, requester string) string {
	return fmt.Sprintf("%s\nrecordId:%s\nrequester:%s", s.Challenge(), recordID, requester)
}

func (s SessionContext) ExpiresAt() time.Time {
	return time.Unix(s.StartTimestamp, 0).Add(time.Duration(s.DurationDays) * 24 * time.Hour)
}

func (s SessionContext) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt())
}
