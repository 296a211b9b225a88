package decryption

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/fhenergy-api/internal/cipher"
	"github.com/ksred/fhenergy-api/internal/types"
	"github.com/ksred/fhenergy-api/internal/wallet"
)

const contractAddress = "0x00000000000000000000000000000000000000e1"

var sessionStart = time.Unix(1760000000, 0)

func fixedSession() SessionContext {
	return SessionContext{
		PublicKey:       "0xabc123",
		ContractAddress: contractAddress,
		NetworkID:       11155111,
		StartTimestamp:  sessionStart.Unix(),
		DurationDays:    30,
	}
}

func newTestAuthorizer(policy Policy) *Authorizer {
	a := NewAuthorizer(fixedSession(), policy)
	a.now = func() time.Time { return sessionStart.Add(time.Hour) }
	return a
}

func encryptedRecord(t *testing.T, owner string, energy, price float64) *types.OrderRecord {
	t.Helper()
	e, err := cipher.EncryptNumber(energy)
	require.NoError(t, err)
	p, err := cipher.EncryptNumber(price)
	require.NoError(t, err)
	return &types.OrderRecord{
		ID:              "1760000000000-deadbeef",
		EncryptedEnergy: e,
		EncryptedPrice:  p,
		Timestamp:       sessionStart.Unix(),
		Owner:           owner,
		Type:            types.OfferSupply,
		Status:          types.StatusPending,
	}
}

// recordingProvider wraps a wallet and remembers what it was asked to sign.
type recordingProvider struct {
	*wallet.Wallet
	signed []string
}

func (p *recordingProvider) Sign(ctx context.Context, message string) (string, error) {
	p.signed = append(p.signed, message)
	return p.Wallet.Sign(ctx, message)
}

type decliningProvider struct{ identity string }

func (d decliningProvider) Identity(context.Context) (string, error) { return d.identity, nil }

func (d decliningProvider) Sign(context.Context, string) (string, error) {
	return "", errors.New("user rejected the request")
}

func newWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate()
	require.NoError(t, err)
	return w
}

func TestChallenge_Golden(t *testing.T) {
	g := goldie.New(t)
	g.Assert(t, "challenge", []byte(fixedSession().Challenge()))
	g.Assert(t, "bound_challenge", []byte(fixedSession().BoundChallenge(
		"1760000000000-deadbeef", "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf")))
}

func TestNewSession(t *testing.T) {
	now := time.Unix(1760000123, 0)
	s, err := NewSession(contractAddress, 1, now, 0)
	require.NoError(t, err)

	assert.Equal(t, contractAddress, s.ContractAddress)
	assert.Equal(t, int64(1), s.NetworkID)
	assert.Equal(t, now.Unix(), s.StartTimestamp)
	assert.Equal(t, DefaultDurationDays, s.DurationDays)
	assert.True(t, strings.HasPrefix(s.PublicKey, "0x"))
	assert.Len(t, s.PublicKey, 2+2000)

	other, err := NewSession(contractAddress, 1, now, 0)
	require.NoError(t, err)
	assert.NotEqual(t, s.PublicKey, other.PublicKey)

	assert.False(t, s.Expired(now.Add(29*24*time.Hour)))
	assert.True(t, s.Expired(now.Add(30*24*time.Hour)))
}

func TestDecrypt_ScenarioA(t *testing.T) {
	owner := newWallet(t)
	record := encryptedRecord(t, owner.Address(), 10, 2.5)
	provider := &recordingProvider{Wallet: owner}

	a := newTestAuthorizer(Policy{VerifySignatures: true})
	plain, err := a.Decrypt(context.Background(), record, provider)
	require.NoError(t, err)

	assert.Equal(t, 10.0, plain.Energy)
	assert.Equal(t, 2.5, plain.Price)
	assert.Equal(t, 25.0, plain.TotalValue)
	require.Len(t, provider.signed, 1)
	assert.Equal(t, fixedSession().Challenge(), provider.signed[0])
}

func TestDecrypt_AnyViewerMayDecryptByDefault(t *testing.T) {
	record := encryptedRecord(t, "0x00000000000000000000000000000000000000aa", 7, 3)
	viewer := newWallet(t)

	a := newTestAuthorizer(Policy{VerifySignatures: true})
	plain, err := a.Decrypt(context.Background(), record, viewer)
	require.NoError(t, err)
	assert.Equal(t, 7.0, plain.Energy)
}

func TestDecrypt_Rejected(t *testing.T) {
	record := encryptedRecord(t, "0x00000000000000000000000000000000000000aa", 7, 3)
	a := newTestAuthorizer(Policy{VerifySignatures: true})

	plain, err := a.Decrypt(context.Background(), record, decliningProvider{identity: "0xbb"})
	assert.Nil(t, plain)
	assert.ErrorIs(t, err, types.ErrSignatureRejected)
}

func TestDecrypt_NoIdentity(t *testing.T) {
	record := encryptedRecord(t, "0x00000000000000000000000000000000000000aa", 7, 3)
	a := newTestAuthorizer(Policy{})

	_, err := a.Decrypt(context.Background(), record, decliningProvider{})
	assert.ErrorIs(t, err, types.ErrSignatureRejected)
}

func TestDecrypt_SignatureFromAnotherWallet(t *testing.T) {
	record := encryptedRecord(t, "0x00000000000000000000000000000000000000aa", 7, 3)
	signer := newWallet(t)
	claimed := newWallet(t)

	sig, err := signer.Sign(context.Background(), fixedSession().Challenge())
	require.NoError(t, err)
	provider := PresignedProvider{Address: claimed.Address(), Signature: sig}

	strict := newTestAuthorizer(Policy{VerifySignatures: true})
	_, err = strict.Decrypt(context.Background(), record, provider)
	assert.ErrorIs(t, err, types.ErrSignatureRejected)

	// Without verification any signature is accepted.
	lenient := newTestAuthorizer(Policy{})
	plain, err := lenient.Decrypt(context.Background(), record, provider)
	require.NoError(t, err)
	assert.Equal(t, 3.0, plain.Price)
}

func TestDecrypt_OwnerOnly(t *testing.T) {
	owner := newWallet(t)
	viewer := newWallet(t)
	record := encryptedRecord(t, owner.Address(), 7, 3)
	a := newTestAuthorizer(Policy{VerifySignatures: true, OwnerOnly: true})

	_, err := a.Decrypt(context.Background(), record, viewer)
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	plain, err := a.Decrypt(context.Background(), record, owner)
	require.NoError(t, err)
	assert.Equal(t, 7.0, plain.Energy)
}

func TestDecrypt_BindRecord(t *testing.T) {
	viewer := newWallet(t)
	record := encryptedRecord(t, "0x00000000000000000000000000000000000000aa", 7, 3)
	a := newTestAuthorizer(Policy{VerifySignatures: true, BindRecord: true})

	provider := &recordingProvider{Wallet: viewer}
	_, err := a.Decrypt(context.Background(), record, provider)
	require.NoError(t, err)
	require.Len(t, provider.signed, 1)
	assert.True(t, strings.HasSuffix(provider.signed[0], "\nrecordId:"+record.ID+"\nrequester:"+viewer.Address()))

	// A signature over the bare session challenge no longer unlocks the record.
	sig, err := viewer.Sign(context.Background(), fixedSession().Challenge())
	require.NoError(t, err)
	_, err = a.Decrypt(context.Background(), record, PresignedProvider{Address: viewer.Address(), Signature: sig})
	assert.ErrorIs(t, err, types.ErrSignatureRejected)
}

func TestDecrypt_SessionExpired(t *testing.T) {
	viewer := newWallet(t)
	record := encryptedRecord(t, viewer.Address(), 7, 3)
	a := newTestAuthorizer(Policy{VerifySignatures: true})
	a.now = func() time.Time { return sessionStart.Add(31 * 24 * time.Hour) }

	_, err := a.Decrypt(context.Background(), record, viewer)
	assert.ErrorIs(t, err, types.ErrSessionExpired)
}

func TestDecrypt_Cancelled(t *testing.T) {
	viewer := newWallet(t)
	record := encryptedRecord(t, viewer.Address(), 7, 3)
	a := newTestAuthorizer(Policy{VerifySignatures: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	plain, err := a.Decrypt(ctx, record, viewer)
	assert.Nil(t, plain)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecrypt_UntaggedCiphertext(t *testing.T) {
	viewer := newWallet(t)
	record := encryptedRecord(t, viewer.Address(), 7, 3)
	record.EncryptedEnergy = "7"
	a := newTestAuthorizer(Policy{VerifySignatures: true})

	_, err := a.Decrypt(context.Background(), record, viewer)
	assert.ErrorIs(t, err, types.ErrMalformedData)
}

// outcomeCounter keeps one total per label set.
type outcomeCounter struct {
	counts map[string]float64
	lvs    []string
}

func (c *outcomeCounter) With(labelValues ...string) metrics.Counter {
	lvs := append(append([]string{}, c.lvs...), labelValues...)
	return &outcomeCounter{counts: c.counts, lvs: lvs}
}

func (c *outcomeCounter) Add(delta float64) {
	c.counts[strings.Join(c.lvs, "=")] += delta
}

func TestDecrypt_RecordsOutcomes(t *testing.T) {
	viewer := newWallet(t)
	record := encryptedRecord(t, viewer.Address(), 7, 3)
	counter := &outcomeCounter{counts: map[string]float64{}}
	a := NewAuthorizer(fixedSession(), Policy{VerifySignatures: true}, WithMetrics(&Metrics{Requests: counter}))
	a.now = func() time.Time { return sessionStart.Add(time.Hour) }

	_, err := a.Decrypt(context.Background(), record, viewer)
	require.NoError(t, err)
	_, err = a.Decrypt(context.Background(), record, decliningProvider{identity: viewer.Address()})
	require.Error(t, err)
	_, err = a.Decrypt(context.Background(), record, decliningProvider{identity: viewer.Address()})
	require.Error(t, err)

	assert.Equal(t, map[string]float64{
		"outcome=decrypted": 1,
		"outcome=rejected":  2,
	}, counter.counts)
}
