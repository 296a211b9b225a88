// Package decryption reveals offer values only to viewers who prove
// control of an identity by signing the session challenge.
package decryption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/fhenergy-api/internal/cipher"
	"github.com/ksred/fhenergy-api/internal/types"
	"github.com/ksred/fhenergy-api/internal/wallet"
)

// IdentityProvider is the viewer's wallet. Sign returns an error wrapping
// types.ErrSignatureRejected when the user declines.
type IdentityProvider interface {
	Identity(ctx context.Context) (string, error)
	Sign(ctx context.Context, message string) (string, error)
}

// VerifyFunc checks that signature over message belongs to identity.
type VerifyFunc func(identity, message, signature string) error

// Policy selects the hardening applied on top of the session challenge.
type Policy struct {
	// VerifySignatures recovers the signer and requires it to match the
	// requesting identity. Without it, obtaining any signature is enough.
	VerifySignatures bool
	// BindRecord adds the record id and requester to the signed challenge.
	BindRecord bool
	// OwnerOnly restricts decryption to the record owner.
	OwnerOnly bool
}

// Plaintext is a decrypted offer.
type Plaintext struct {
	RecordID   string  `json:"record_id"`
	Energy     float64 `json:"energy"`
	Price      float64 `json:"price"`
	TotalValue float64 `json:"total_value"`
}

// Authorizer runs the decryption protocol for one session.
type Authorizer struct {
	session SessionContext
	policy  Policy
	verify  VerifyFunc
	metrics *Metrics
	now     func() time.Time
}

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithMetrics records decryption outcomes to m
func WithMetrics(m *Metrics) Option {
	return func(a *Authorizer) {
		a.metrics = m
	}
}

func NewAuthorizer(session SessionContext, policy Policy, opts ...Option) *Authorizer {
	a := &Authorizer{
		session: session,
		policy:  policy,
		verify:  wallet.VerifySignature,
		metrics: NopMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Authorizer) Session() SessionContext {
	return a.session
}

func (a *Authorizer) Policy() Policy {
	return a.policy
}

// ChallengeFor returns the message requester must sign to view record.
func (a *Authorizer) ChallengeFor(recordID, requester string) string {
	if a.policy.BindRecord {
		return a.session.BoundChallenge(recordID, types.NormalizeIdentity(requester))
	}
	return a.session.Challenge()
}

// Decrypt asks provider to sign the challenge and, once the signature is
// accepted, returns the record's plaintext values. A declined signature
// yields ErrSignatureRejected and no values.
func (a *Authorizer) Decrypt(ctx context.Context, record *types.OrderRecord, provider IdentityProvider) (*Plaintext, error) {
	plain, err := a.decrypt(ctx, record, provider)
	a.metrics.Requests.With("outcome", outcome(err)).Add(1)
	return plain, err
}

func (a *Authorizer) decrypt(ctx context.Context, record *types.OrderRecord, provider IdentityProvider) (*Plaintext, error) {
	logger := log.With().
		Str("offer_id", record.ID).
		Str("service", "decryption").
		Logger()

	if a.session.Expired(a.now()) {
		return nil, fmt.Errorf("%w: session ended at %s", types.ErrSessionExpired, a.session.ExpiresAt().UTC().Format(time.RFC3339))
	}

	identity, err := provider.Identity(ctx)
	if err != nil {
		return nil, rejected(err)
	}
	identity = types.NormalizeIdentity(identity)
	if identity == "" {
		return nil, fmt.Errorf("%w: no identity connected", types.ErrSignatureRejected)
	}
	logger = logger.With().Str("requester", identity).Logger()

	if a.policy.OwnerOnly && !record.OwnedBy(identity) {
		logger.Warn().Msg("decryption refused for non-owner")
		return nil, fmt.Errorf("%w: only the owner may decrypt offer %s", types.ErrUnauthorized, record.ID)
	}

	challenge := a.ChallengeFor(record.ID, identity)
	signature, err := provider.Sign(ctx, challenge)
	if err != nil {
		logger.Info().Err(err).Msg("decryption not authorized")
		return nil, rejected(err)
	}

	if a.policy.VerifySignatures {
		if err := a.verify(identity, challenge, signature); err != nil {
			logger.Warn().Err(err).Msg("signature verification failed")
			return nil, fmt.Errorf("%w: %v", types.ErrSignatureRejected, err)
		}
	}

	energy, err := cipher.DecryptNumber(record.EncryptedEnergy)
	if err != nil {
		return nil, fmt.Errorf("energy: %w", err)
	}
	price, err := cipher.DecryptNumber(record.EncryptedPrice)
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}

	logger.Info().Msg("offer decrypted")
	return &Plaintext{
		RecordID:   record.ID,
		Energy:     energy,
		Price:      price,
		TotalValue: energy * price,
	}, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "decrypted"
	case errors.Is(err, types.ErrSignatureRejected):
		return "rejected"
	case errors.Is(err, types.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, types.ErrSessionExpired):
		return "expired"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "abandoned"
	}
	return "error"
}

// rejected keeps cancellation and explicit rejections as they are and
// reports anything else from the wallet as a rejection.
func rejected(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, types.ErrSignatureRejected) {
		return err
	}
	return fmt.Errorf("%w: %v", types.ErrSignatureRejected, err)
}

// PresignedProvider replays a signature the viewer produced elsewhere, as
// when a browser wallet signs the challenge and posts the result.
type PresignedProvider struct {
	Address   string
	Signature string
}

func (p PresignedProvider) Identity(ctx context.Context) (string, error) {
	if p.Address == "" {
		return "", fmt.Errorf("%w: address is required", types.ErrSignatureRejected)
	}
	return p.Address, ctx.Err()
}

func (p PresignedProvider) Sign(ctx context.Context, _ string) (string, error) {
	if p.Signature == "" {
		return "", fmt.Errorf("%w: signature is required", types.ErrSignatureRejected)
	}
	return p.Signature, ctx.Err()
}
