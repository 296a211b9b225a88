package offers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ksred/fhenergy-api/internal/cipher"
	"github.com/ksred/fhenergy-api/internal/ledger"
	"github.com/ksred/fhenergy-api/internal/types"
	"github.com/ksred/fhenergy-api/pkg/response"
)

// Service runs the offer lifecycle: pending -> matched -> completed.
type Service struct {
	store   *Store
	metrics *Metrics
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records service metrics to m
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates an offer service persisting to the given ledger
func NewService(l ledger.Ledger, opts ...Option) *Service {
	s := &Service{
		store:   NewStore(l),
		metrics: NopMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetStore exposes the record store for background processors
func (s *Service) GetStore() *Store {
	return s.store
}

// SubmitOffer encrypts energy and price and records a new pending offer
// owned by owner. The offer only exists once SubmitOffer returns without error.
// Parameters:
//   - owner: account address of the submitting trader
//   - offerType: supply or demand
//   - energy: quantity in kWh, must be positive
//   - price: price per kWh, must be positive
func (s *Service) SubmitOffer(ctx context.Context, owner string, offerType types.OfferType, energy, price float64) (*types.OrderRecord, error) {
	owner = types.NormalizeIdentity(owner)
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", types.ErrValidation)
	}
	if !offerType.Valid() {
		return nil, fmt.Errorf("%w: offer type must be supply or demand", types.ErrValidation)
	}
	if !positive(energy) {
		return nil, fmt.Errorf("%w: energy must be greater than zero", types.ErrValidation)
	}
	if !positive(price) {
		return nil, fmt.Errorf("%w: price must be greater than zero", types.ErrValidation)
	}
	if err := s.ensureAvailable(ctx); err != nil {
		return nil, err
	}

	encryptedEnergy, err := cipher.EncryptNumber(energy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	encryptedPrice, err := cipher.EncryptNumber(price)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrValidation, err)
	}

	now := s.now()
	record := &types.OrderRecord{
		ID:              newRecordID(now),
		EncryptedEnergy: encryptedEnergy,
		EncryptedPrice:  encryptedPrice,
		Timestamp:       now.Unix(),
		Owner:           owner,
		Type:            offerType,
		Status:          types.StatusPending,
	}

	logger := log.With().
		Str("offer_id", record.ID).
		Str("owner", owner).
		Str("service", "offers").
		Logger()

	if err := s.store.Create(ctx, record); err != nil {
		logger.Error().Err(err).Msg("failed to create offer")
		s.metrics.Rejections.With("operation", "submit", "reason", reason(err)).Add(1)
		return nil, fmt.Errorf("%w: %w", types.ErrCreationFailed, err)
	}

	s.metrics.Submitted.With("type", string(offerType)).Add(1)
	logger.Info().Str("type", string(offerType)).Msg("offer submitted")
	return record, nil
}

// MatchOrder marks a pending offer as matched. Only the owner may do this;
// matchedWith is an optional reference to the counterparty.
func (s *Service) MatchOrder(ctx context.Context, actor, id, matchedWith string) (*types.OrderRecord, error) {
	return s.transition(ctx, actor, id, types.StatusPending, func(rec *types.OrderRecord) {
		if ref := strings.TrimSpace(matchedWith); ref != "" {
			rec.MatchedWith = ref
		}
	})
}

// CompleteOrder marks a matched offer as completed.
func (s *Service) CompleteOrder(ctx context.Context, actor, id string) (*types.OrderRecord, error) {
	return s.transition(ctx, actor, id, types.StatusMatched, nil)
}

// GetOffer retrieves an offer by its ID
func (s *Service) GetOffer(ctx context.Context, id string) (*types.OrderRecord, error) {
	if err := s.ensureAvailable(ctx); err != nil {
		return nil, err
	}
	rec, diag, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if diag != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrMalformedData, diag.Problem)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	return rec, nil
}

// ListOffers returns the filtered offers, newest first, together with
// diagnostics for blobs that were skipped.
func (s *Service) ListOffers(ctx context.Context, search string, typeFilter TypeFilter) ([]types.OrderRecord, []Diagnostic, error) {
	if err := s.ensureAvailable(ctx); err != nil {
		return nil, nil, err
	}
	records, diags, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, nil, err
	}
	s.metrics.Diagnostics.Set(float64(len(diags)))
	return Filter(records, search, typeFilter), diags, nil
}

// MarketStats aggregates the current snapshot of offers
func (s *Service) MarketStats(ctx context.Context) (MarketStats, error) {
	if err := s.ensureAvailable(ctx); err != nil {
		return MarketStats{}, err
	}
	records, _, err := s.store.ListAll(ctx)
	if err != nil {
		return MarketStats{}, err
	}
	return Aggregate(records), nil
}

func (s *Service) transition(ctx context.Context, actor, id string, from types.OrderStatus, apply func(rec *types.OrderRecord)) (*types.OrderRecord, error) {
	logger := log.With().
		Str("offer_id", id).
		Str("actor", actor).
		Str("service", "offers").
		Logger()

	to, ok := from.Next()
	if !ok {
		return nil, fmt.Errorf("%w: %s is terminal", types.ErrInvalidTransition, from)
	}
	if err := s.ensureAvailable(ctx); err != nil {
		return nil, err
	}

	updated, err := s.store.Update(ctx, id, func(rec *types.OrderRecord) error {
		if !rec.OwnedBy(actor) {
			return fmt.Errorf("%w: %s does not own offer %s", types.ErrUnauthorized, actor, id)
		}
		if rec.Status != from {
			return fmt.Errorf("%w: offer %s is %s, expected %s", types.ErrInvalidTransition, id, rec.Status, from)
		}
		rec.Status = to
		if apply != nil {
			apply(rec)
		}
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Msg("offer transition rejected")
		s.metrics.Rejections.With("operation", string(to), "reason", reason(err)).Add(1)
		return nil, err
	}
	s.metrics.Transitions.With("status", string(to)).Add(1)

	logger.Info().
		Str("from", string(from)).
		Str("to", string(updated.Status)).
		Msg("offer status updated")
	return updated, nil
}

func (s *Service) ensureAvailable(ctx context.Context) error {
	if !s.store.ledger.IsAvailable(ctx) {
		return fmt.Errorf("%w: ledger is not reachable", types.ErrStorageUnavailable)
	}
	return nil
}

// newRecordID builds a time-prefixed id with a random suffix. Uniqueness is
// best effort.
func newRecordID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}

// reason maps an error onto a low-cardinality metric label.
func reason(err error) string {
	switch {
	case errors.Is(err, types.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, types.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, types.ErrMalformedData):
		return "malformed"
	case errors.Is(err, types.ErrStorageUnavailable):
		return "unavailable"
	}
	return "other"
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// GinHandlers contains HTTP handlers for offer endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for offer endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type createOfferRequest struct {
	Type   types.OfferType `json:"type" binding:"required"`
	Energy float64         `json:"energy"`
	Price  float64         `json:"price"`
}

type matchOfferRequest struct {
	MatchedWith string `json:"matched_with"`
}

// ListResponse is the body returned by the offer listing endpoint.
type ListResponse struct {
	Offers      []types.OrderRecord `json:"offers"`
	Diagnostics []Diagnostic        `json:"diagnostics,omitempty"`
}

// CreateOfferHandler handles POST requests to submit a new offer
// Requires a valid JWT token; the token's client ID becomes the owner
func (h *GinHandlers) CreateOfferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.GetString("clientID")
		if owner == "" {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		var req createOfferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		record, err := h.service.SubmitOffer(c.Request.Context(), owner, req.Type, req.Energy, req.Price)
		response.Handle(c, record, err)
	}
}

// ListOffersHandler handles GET requests listing offers
// Query parameters: search, type (all, supply, demand)
func (h *GinHandlers) ListOffersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		typeFilter, ok := ParseTypeFilter(c.Query("type"))
		if !ok {
			response.BadRequest(c, "type must be one of all, supply, demand")
			return
		}

		records, diags, err := h.service.ListOffers(c.Request.Context(), c.Query("search"), typeFilter)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, ListResponse{Offers: records, Diagnostics: diags})
	}
}

// GetOfferHandler handles GET requests for a single offer
// URL parameter: offer_id
func (h *GinHandlers) GetOfferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := h.service.GetOffer(c.Request.Context(), c.Param("offer_id"))
		response.Handle(c, record, err)
	}
}

// MarketStatsHandler handles GET requests for market aggregates
func (h *GinHandlers) MarketStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.service.MarketStats(c.Request.Context())
		response.Handle(c, stats, err)
	}
}

// MatchOfferHandler handles POST requests to mark an offer as matched
// Requires a valid JWT token belonging to the offer owner
// URL parameter: offer_id
func (h *GinHandlers) MatchOfferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetString("clientID")
		if actor == "" {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		var req matchOfferRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				response.BadRequest(c, err.Error())
				return
			}
		}

		record, err := h.service.MatchOrder(c.Request.Context(), actor, c.Param("offer_id"), req.MatchedWith)
		response.Handle(c, record, err)
	}
}

// CompleteOfferHandler handles POST requests to complete a matched offer
// Requires a valid JWT token belonging to the offer owner
// URL parameter: offer_id
func (h *GinHandlers) CompleteOfferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetString("clientID")
		if actor == "" {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		record, err := h.service.CompleteOrder(c.Request.Context(), actor, c.Param("offer_id"))
		response.Handle(c, record, err)
	}
}
