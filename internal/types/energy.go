package types

import "strings"

type OfferType string

const (
	OfferSupply OfferType = "supply"
	OfferDemand OfferType = "demand"
)

func (t OfferType) Valid() bool {
	return t == OfferSupply || t == OfferDemand
}

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusMatched   OrderStatus = "matched"
	StatusCompleted OrderStatus = "completed"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusMatched, StatusCompleted:
		return true
	}
	return false
}

// Next returns the only status s may advance to. Completed is terminal.
func (s OrderStatus) Next() (OrderStatus, bool) {
	switch s {
	case StatusPending:
		return StatusMatched, true
	case StatusMatched:
		return StatusCompleted, true
	}
	return "", false
}

// OrderRecord is an encrypted energy offer. Energy and price are only ever
// held as ciphertexts.
type OrderRecord struct {
	ID              string      `json:"id"`
	EncryptedEnergy string      `json:"encrypted_energy"`
	EncryptedPrice  string      `json:"encrypted_price"`
	Timestamp       int64       `json:"timestamp"` // seconds since epoch
	Owner           string      `json:"owner"`
	Type            OfferType   `json:"type"`
	Status          OrderStatus `json:"status"`
	MatchedWith     string      `json:"matched_with,omitempty"`
}

// OwnedBy reports whether identity owns the record. Account addresses are
// compared case-insensitively.
func (r *OrderRecord) OwnedBy(identity string) bool {
	return identity != "" && strings.EqualFold(r.Owner, identity)
}

// NormalizeIdentity lower-cases an account address for storage and comparison.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
