package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/fhenergy-api/internal/auth"
	"github.com/ksred/fhenergy-api/internal/config"
	"github.com/ksred/fhenergy-api/internal/decryption"
	"github.com/ksred/fhenergy-api/internal/wallet"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:            "test",
		Port:           "0",
		JWTSecret:      "public-secret",
		InternalSecret: "internal-secret",
		NetworkID:      11155111,
		Ledger: config.LedgerConfig{
			Backend:         config.BackendMemory,
			ContractAddress: "0x00000000000000000000000000000000000000e1",
		},
		Session:    config.SessionConfig{DurationDays: 30},
		Decryption: config.DecryptionConfig{VerifySignatures: true},
		Reconcile:  config.ReconcileConfig{Interval: time.Minute},
	}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type client struct {
	t      *testing.T
	router http.Handler
}

func (c client) call(method, path, token string, body interface{}, out interface{}) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(c.t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	if out != nil && resp.Success {
		require.NoError(c.t, json.Unmarshal(resp.Data, out))
	}
	return w.Code
}

func (c client) login(w *wallet.Wallet) string {
	c.t.Helper()
	ts := time.Now().Unix()
	sig, err := w.Sign(context.Background(), auth.LoginMessage(w.Address(), ts))
	require.NoError(c.t, err)

	var token auth.TokenResponse
	code := c.call(http.MethodPost, "/api/v1/auth/token", "", auth.Credentials{
		Address:   w.Address(),
		Timestamp: ts,
		Signature: sig,
	}, &token)
	require.Equal(c.t, http.StatusCreated, code)
	require.NotEmpty(c.t, token.Token)
	return token.Token
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, client) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	l, closeLedger, err := OpenLedger(cfg.Ledger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeLedger() })

	srv, err := New(cfg, l, time.Now())
	require.NoError(t, err)
	return srv, client{t: t, router: srv.Router()}
}

func TestAPI_OfferLifecycleAndDecryption(t *testing.T) {
	srv, api := newTestServer(t, testConfig())

	seller, err := wallet.Generate()
	require.NoError(t, err)
	viewer, err := wallet.Generate()
	require.NoError(t, err)

	sellerToken := api.login(seller)
	viewerToken := api.login(viewer)

	var offer struct {
		ID     string `json:"id"`
		Owner  string `json:"owner"`
		Status string `json:"status"`
	}
	code := api.call(http.MethodPost, "/api/v1/offers", sellerToken, map[string]interface{}{
		"type": "supply", "energy": 10, "price": 2.5,
	}, &offer)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, seller.Address(), offer.Owner)
	assert.Equal(t, "pending", offer.Status)

	var session struct {
		Challenge string                    `json:"challenge"`
		Session   decryption.SessionContext `json:"session"`
	}
	require.Equal(t, http.StatusOK, api.call(http.MethodGet, "/api/v1/session", "", nil, &session))
	assert.Equal(t, srv.Session().Challenge(), session.Challenge)
	assert.Equal(t, "0x00000000000000000000000000000000000000e1", session.Session.ContractAddress)

	sig, err := viewer.Sign(context.Background(), session.Challenge)
	require.NoError(t, err)

	var plain decryption.Plaintext
	code = api.call(http.MethodPost, "/api/v1/offers/"+offer.ID+"/decrypt", "", map[string]string{
		"address": viewer.Address(), "signature": sig,
	}, &plain)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 10.0, plain.Energy)
	assert.Equal(t, 2.5, plain.Price)
	assert.Equal(t, 25.0, plain.TotalValue)

	code = api.call(http.MethodPost, "/api/v1/offers/"+offer.ID+"/decrypt", "", map[string]string{
		"address": seller.Address(), "signature": sig,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, code, "a signature only unlocks its signer")

	assert.Equal(t, http.StatusUnauthorized, api.call(http.MethodPost, "/api/v1/offers/"+offer.ID+"/match", "", nil, nil))
	assert.Equal(t, http.StatusForbidden, api.call(http.MethodPost, "/api/v1/offers/"+offer.ID+"/match", viewerToken, nil, nil))
	assert.Equal(t, http.StatusCreated, api.call(http.MethodPost, "/api/v1/offers/"+offer.ID+"/match", sellerToken, map[string]string{"matched_with": viewer.Address()}, nil))
	assert.Equal(t, http.StatusCreated, api.call(http.MethodPost, "/api/v1/offers/"+offer.ID+"/complete", sellerToken, nil, nil))
	assert.Equal(t, http.StatusConflict, api.call(http.MethodPost, "/api/v1/offers/"+offer.ID+"/complete", sellerToken, nil, nil))

	var listing struct {
		Offers []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"offers"`
	}
	require.Equal(t, http.StatusOK, api.call(http.MethodGet, "/api/v1/offers?type=supply", "", nil, &listing))
	require.Len(t, listing.Offers, 1)
	assert.Equal(t, "completed", listing.Offers[0].Status)
}

func TestAPI_BoundChallenge(t *testing.T) {
	cfg := testConfig()
	cfg.Decryption.BindRecord = true
	_, api := newTestServer(t, cfg)

	seller, err := wallet.Generate()
	require.NoError(t, err)
	token := api.login(seller)

	var offer struct {
		ID string `json:"id"`
	}
	require.Equal(t, http.StatusCreated, api.call(http.MethodPost, "/api/v1/offers", token, map[string]interface{}{
		"type": "demand", "energy": 4, "price": 1.5,
	}, &offer))

	var challenge struct {
		Challenge string `json:"challenge"`
	}
	require.Equal(t, http.StatusOK, api.call(http.MethodGet, "/api/v1/offers/"+offer.ID+"/challenge?address="+seller.Address(), "", nil, &challenge))
	assert.Contains(t, challenge.Challenge, "recordId:"+offer.ID)

	sig, err := seller.Sign(context.Background(), challenge.Challenge)
	require.NoError(t, err)

	var plain decryption.Plaintext
	require.Equal(t, http.StatusCreated, api.call(http.MethodPost, "/api/v1/offers/"+offer.ID+"/decrypt", "", map[string]string{
		"address": seller.Address(), "signature": sig,
	}, &plain))
	assert.Equal(t, 6.0, plain.TotalValue)
}

func TestAPI_InternalRoutesRequireOperatorToken(t *testing.T) {
	_, api := newTestServer(t, testConfig())

	trader, err := wallet.Generate()
	require.NoError(t, err)
	publicToken := api.login(trader)

	assert.Equal(t, http.StatusUnauthorized, api.call(http.MethodPost, "/api/v1/internal/reconcile", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, api.call(http.MethodPost, "/api/v1/internal/reconcile", publicToken, nil, nil))

	op, err := auth.IssueOperatorToken("internal-secret", "ops", time.Minute)
	require.NoError(t, err)

	var report struct {
		IndexedIDs int `json:"indexed_ids"`
	}
	assert.Equal(t, http.StatusCreated, api.call(http.MethodPost, "/api/v1/internal/reconcile", op.Token, nil, &report))
	assert.Equal(t, 0, report.IndexedIDs)
	assert.Equal(t, http.StatusOK, api.call(http.MethodGet, "/api/v1/internal/reconcile", op.Token, nil, nil))
}

func TestAPI_OfferWritesAreLimitedPerWallet(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = true
	_, api := newTestServer(t, cfg)

	busy, err := wallet.Generate()
	require.NoError(t, err)
	quiet, err := wallet.Generate()
	require.NoError(t, err)
	busyToken := api.login(busy)
	quietToken := api.login(quiet)

	submit := func(token string) int {
		return api.call(http.MethodPost, "/api/v1/offers", token, map[string]interface{}{
			"type": "demand", "energy": 1, "price": 1,
		}, nil)
	}
	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusCreated, submit(busyToken), "submission %d", i)
	}
	assert.Equal(t, http.StatusBadRequest, submit(busyToken))
	assert.Equal(t, http.StatusCreated, submit(quietToken))
}

func TestHandler_CORS(t *testing.T) {
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"https://market.example"}
	srv, _ := newTestServer(t, cfg)
	handler := srv.Handler()

	get := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/offers/stats", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	w := get("https://market.example")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://market.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = get("https://elsewhere.example")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandler_WithoutOriginsIsPlainRouter(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/offers/stats", nil)
	req.Header.Set("Origin", "https://market.example")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

// Collectors register with the default registry, so this is the only test
// that enables metrics.
func TestRouter_MetricsEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics = config.MetricsConfig{Enabled: true, Namespace: "fhenergy_test"}
	srv, _ := newTestServer(t, cfg)

	_, err := srv.Offers().SubmitOffer(context.Background(), "0x00000000000000000000000000000000000000a1", "supply", 10, 0.2)
	require.NoError(t, err)
	_, err = srv.Reconciler().RunOnce(context.Background())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `fhenergy_test_offers_submitted_total{type="supply"} 1`), body)
	assert.True(t, strings.Contains(body, "fhenergy_test_reconcile_passes_total 1"), body)
	assert.True(t, strings.Contains(body, `fhenergy_test_reconcile_offers{status="pending"} 1`), body)
}

func TestOpenLedger_Backends(t *testing.T) {
	dir := t.TempDir()
	backends := []config.LedgerConfig{
		{Backend: config.BackendMemory},
		{Backend: config.BackendSQLite, SQLitePath: filepath.Join(dir, "ledger.db")},
		{Backend: config.BackendPebble, PebbleDir: filepath.Join(dir, "pebble")},
	}

	for _, cfg := range backends {
		t.Run(cfg.Backend, func(t *testing.T) {
			ctx := context.Background()
			cfg.ContractAddress = "0x00000000000000000000000000000000000000e1"
			l, closeLedger, err := OpenLedger(cfg)
			require.NoError(t, err)
			defer func() { assert.NoError(t, closeLedger()) }()

			assert.True(t, l.IsAvailable(ctx))
			assert.Equal(t, cfg.ContractAddress, l.Address())
			require.NoError(t, l.SetData(ctx, "energy_keys", []byte(`[]`)))
		})
	}

	_, _, err := OpenLedger(config.LedgerConfig{Backend: "etcd"})
	assert.Error(t, err)
}
