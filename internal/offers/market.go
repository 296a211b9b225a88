package offers

import (
	"strings"

	"github.com/ksred/fhenergy-api/internal/types"
)

// TypeFilter selects offers by type. TypeAll matches every offer.
type TypeFilter string

const (
	TypeAll    TypeFilter = "all"
	TypeSupply TypeFilter = TypeFilter(types.OfferSupply)
	TypeDemand TypeFilter = TypeFilter(types.OfferDemand)
)

// ParseTypeFilter maps a query value onto a TypeFilter. Empty means all.
func ParseTypeFilter(v string) (TypeFilter, bool) {
	switch TypeFilter(strings.ToLower(v)) {
	case "", TypeAll:
		return TypeAll, true
	case TypeSupply:
		return TypeSupply, true
	case TypeDemand:
		return TypeDemand, true
	}
	return "", false
}

// MarketStats summarises a snapshot of offers.
type MarketStats struct {
	TotalOffers    int `json:"total_offers"`
	SupplyCount    int `json:"supply_count"`
	DemandCount    int `json:"demand_count"`
	PendingCount   int `json:"pending_count"`
	MatchedCount   int `json:"matched_count"`
	CompletedCount int `json:"completed_count"`
	ActiveTraders  int `json:"active_traders"`
}

// Filter returns the records whose id or owner contains search
// (case-insensitive) and whose type passes typeFilter. Order is preserved.
func Filter(records []types.OrderRecord, search string, typeFilter TypeFilter) []types.OrderRecord {
	needle := strings.ToLower(search)
	out := make([]types.OrderRecord, 0, len(records))
	for _, rec := range records {
		if typeFilter != "" && typeFilter != TypeAll && TypeFilter(rec.Type) != typeFilter {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(rec.ID), needle) &&
			!strings.Contains(strings.ToLower(rec.Owner), needle) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Aggregate counts offers by type and status. ActiveTraders is the number
// of distinct owners.
func Aggregate(records []types.OrderRecord) MarketStats {
	stats := MarketStats{TotalOffers: len(records)}
	owners := make(map[string]struct{})
	for _, rec := range records {
		switch rec.Type {
		case types.OfferSupply:
			stats.SupplyCount++
		case types.OfferDemand:
			stats.DemandCount++
		}
		switch rec.Status {
		case types.StatusPending:
			stats.PendingCount++
		case types.StatusMatched:
			stats.MatchedCount++
		case types.StatusCompleted:
			stats.CompletedCount++
		}
		owners[types.NormalizeIdentity(rec.Owner)] = struct{}{}
	}
	stats.ActiveTraders = len(owners)
	return stats
}
