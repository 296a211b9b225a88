package decryption

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/ksred/fhenergy-api/internal/types"
	"github.com/ksred/fhenergy-api/pkg/response"
)

// RecordSource looks up offers by id.
type RecordSource interface {
	GetOffer(ctx context.Context, id string) (*types.OrderRecord, error)
}

// GinHandlers contains HTTP handlers for the decryption endpoints
type GinHandlers struct {
	authorizer *Authorizer
	records    RecordSource
}

func NewGinHandlers(authorizer *Authorizer, records RecordSource) *GinHandlers {
	return &GinHandlers{
		authorizer: authorizer,
		records:    records,
	}
}

type sessionResponse struct {
	Session    SessionContext `json:"session"`
	Challenge  string         `json:"challenge"`
	BindRecord bool           `json:"bind_record"`
	ExpiresAt  int64          `json:"expires_at"`
}

type decryptRequest struct {
	Address   string `json:"address" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// SessionHandler returns the session context and the challenge to sign.
// When records are bound into the challenge, clients fetch it per offer
// from ChallengeHandler instead.
func (h *GinHandlers) SessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := h.authorizer.Session()
		response.Success(c, sessionResponse{
			Session:    session,
			Challenge:  session.Challenge(),
			BindRecord: h.authorizer.Policy().BindRecord,
			ExpiresAt:  session.ExpiresAt().Unix(),
		})
	}
}

// ChallengeHandler returns the challenge for one offer and requester
// URL parameter: offer_id; query parameter: address
func (h *GinHandlers) ChallengeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		address := c.Query("address")
		if address == "" {
			response.BadRequest(c, "address is required")
			return
		}
		record, err := h.records.GetOffer(c.Request.Context(), c.Param("offer_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"challenge": h.authorizer.ChallengeFor(record.ID, address)})
	}
}

// DecryptHandler handles POST requests carrying a signed challenge and
// returns the offer's plaintext values
// URL parameter: offer_id
func (h *GinHandlers) DecryptHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req decryptRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		record, err := h.records.GetOffer(c.Request.Context(), c.Param("offer_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		provider := PresignedProvider{Address: req.Address, Signature: req.Signature}
		plaintext, err := h.authorizer.Decrypt(c.Request.Context(), record, provider)
		response.Handle(c, plaintext, err)
	}
}
