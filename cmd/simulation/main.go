package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ksred/fhenergy-api/internal/auth"
	"github.com/ksred/fhenergy-api/internal/config"
	"github.com/ksred/fhenergy-api/internal/decryption"
	"github.com/ksred/fhenergy-api/internal/offers"
	"github.com/ksred/fhenergy-api/internal/reconcile"
	"github.com/ksred/fhenergy-api/internal/server"
	"github.com/ksred/fhenergy-api/internal/types"
	"github.com/ksred/fhenergy-api/internal/wallet"
)

const (
	minOffers     = 15
	maxOffers     = 150
	numTraders    = 5
	serverPort    = "8080"
	serverAddress = "http://localhost:" + serverPort
)

var offerTypes = []types.OfferType{types.OfferSupply, types.OfferDemand}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if err != nil {
		rs.failures++
	}
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// apiClient speaks the HTTP API and records per-route latencies
type apiClient struct {
	baseURL string
	client  *http.Client
	stats   map[string]*routeStats
}

func newAPIClient() *apiClient {
	return &apiClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"create":    {name: "Submit Offer"},
			"match":     {name: "Match Offer"},
			"complete":  {name: "Complete Offer"},
			"session":   {name: "Get Session"},
			"decrypt":   {name: "Decrypt Offer"},
			"stats":     {name: "Market Stats"},
			"reconcile": {name: "Reconcile"},
		},
	}
}

// do sends a JSON request and decodes the envelope's data into out
func (ac *apiClient) do(route, method, path, token string, body, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		ac.stats[route].addDuration(time.Since(start), err)
	}()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, ac.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ac.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("route", route).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s failed with status %d: %s", route, resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if out != nil {
		return json.Unmarshal(result.Data, out)
	}
	return nil
}

// trader is a simulated market participant with its own wallet and token
type trader struct {
	wallet *wallet.Wallet
	token  string
}

func (ac *apiClient) login(w *wallet.Wallet) (*trader, error) {
	ts := time.Now().Unix()
	sig, err := w.Sign(context.Background(), auth.LoginMessage(w.Address(), ts))
	if err != nil {
		return nil, err
	}
	var token auth.TokenResponse
	creds := auth.Credentials{Address: w.Address(), Timestamp: ts, Signature: sig}
	if err := ac.do("auth", http.MethodPost, "/api/v1/auth/token", "", creds, &token); err != nil {
		return nil, err
	}
	return &trader{wallet: w, token: token.Token}, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (ac *apiClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range ac.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the market simulation
// It starts a local API server on an in-memory ledger and drives it with
// several concurrent traders
func main() {
	cfg, err := startServer()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}

	// Wait for server to start
	time.Sleep(2 * time.Second)

	api := newAPIClient()
	traders := make([]*trader, numTraders)
	var logins errgroup.Group
	for i := range traders {
		i := i
		logins.Go(func() error {
			w, err := wallet.Generate()
			if err != nil {
				return fmt.Errorf("generate wallet: %w", err)
			}
			t, err := api.login(w)
			if err != nil {
				return fmt.Errorf("authenticate trader %s: %w", w.Address(), err)
			}
			traders[i] = t
			return nil
		})
	}
	if err := logins.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up traders")
	}

	targetOffers := rand.Intn(maxOffers-minOffers) + minOffers
	log.Info().Int("target_offers", targetOffers).Int("traders", numTraders).Msg("Starting simulation")

	type submitted struct {
		owner  *trader
		record types.OrderRecord
	}
	offersChan := make(chan submitted, targetOffers)
	var workers errgroup.Group

	for i, t := range traders {
		workerID, t := i, t
		workers.Go(func() error {
			for n := 0; n < targetOffers/numTraders; n++ {
				req := map[string]interface{}{
					"type":   offerTypes[rand.Intn(len(offerTypes))],
					"energy": float64(rand.Intn(100) + 1),
					"price":  float64(rand.Intn(40)+5) / 100,
				}
				var rec types.OrderRecord
				if err := api.do("create", http.MethodPost, "/api/v1/offers", t.token, req, &rec); err != nil {
					log.Error().Err(err).Int("worker_id", workerID).Msg("Failed to submit offer")
					continue
				}
				offersChan <- submitted{owner: t, record: rec}
				log.Info().
					Int("worker_id", workerID).
					Str("offer_id", rec.ID).
					Str("type", string(rec.Type)).
					Msg("Offer submitted")

				time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
			}
			return nil
		})
	}

	_ = workers.Wait()
	close(offersChan)

	var all []submitted
	for s := range offersChan {
		all = append(all, s)
	}
	log.Info().Int("offers_submitted", len(all)).Msg("All offers submitted")

	var session struct {
		Challenge string `json:"challenge"`
	}
	if err := api.do("session", http.MethodGet, "/api/v1/session", "", nil, &session); err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch decryption session")
	}

	results := struct {
		Matched       int
		Completed     int
		Decrypted     int
		FailedMatch   int
		FailedDecrypt int
		TotalValue    float64
		StartTime     time.Time
	}{StartTime: time.Now()}

	for i, s := range all {
		path := "/api/v1/offers/" + s.record.ID
		if err := api.do("match", http.MethodPost, path+"/match", s.owner.token, nil, nil); err != nil {
			log.Error().Err(err).Str("offer_id", s.record.ID).Msg("Failed to match offer")
			results.FailedMatch++
			continue
		}
		results.Matched++

		// Leave roughly a third of the matched offers open
		if i%3 != 0 {
			if err := api.do("complete", http.MethodPost, path+"/complete", s.owner.token, nil, nil); err != nil {
				log.Error().Err(err).Str("offer_id", s.record.ID).Msg("Failed to complete offer")
			} else {
				results.Completed++
			}
		}

		// A random trader, not necessarily the owner, views the offer
		viewer := traders[rand.Intn(len(traders))]
		sig, err := viewer.wallet.Sign(context.Background(), session.Challenge)
		if err != nil {
			results.FailedDecrypt++
			continue
		}
		var plain decryption.Plaintext
		body := map[string]string{"address": viewer.wallet.Address(), "signature": sig}
		if err := api.do("decrypt", http.MethodPost, path+"/decrypt", "", body, &plain); err != nil {
			log.Error().Err(err).Str("offer_id", s.record.ID).Msg("Failed to decrypt offer")
			results.FailedDecrypt++
			continue
		}
		results.Decrypted++
		results.TotalValue += plain.TotalValue
	}

	var stats offers.MarketStats
	if err := api.do("stats", http.MethodGet, "/api/v1/offers/stats", "", nil, &stats); err != nil {
		log.Error().Err(err).Msg("Failed to fetch market stats")
	}

	var report reconcile.Report
	opToken, err := auth.IssueOperatorToken(cfg.InternalSecret, "simulation", time.Minute)
	if err == nil {
		err = api.do("reconcile", http.MethodPost, "/api/v1/internal/reconcile", opToken.Token, nil, &report)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to reconcile ledger")
	}

	duration := time.Since(results.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("ENERGY MARKET SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Offer Statistics
----------------
Submitted:        %d
Matched:          %d
Completed:        %d
Decrypted:        %d
Failed Matches:   %d
Failed Decrypts:  %d
Decrypted Value:  %.2f
Duration:         %v

Market
------
Supply / Demand:  %d / %d
Pending:          %d
Matched:          %d
Completed:        %d
Active Traders:   %d

Ledger
------
Indexed:          %d
Dangling:         %d
Malformed:        %d
`, len(all), results.Matched, results.Completed, results.Decrypted,
		results.FailedMatch, results.FailedDecrypt, results.TotalValue, duration.Round(time.Millisecond),
		stats.SupplyCount, stats.DemandCount, stats.PendingCount, stats.MatchedCount, stats.CompletedCount, stats.ActiveTraders,
		report.IndexedIDs, len(report.Dangling), len(report.Malformed))

	fmt.Println("\n" + strings.Repeat("=", 80))

	successRate := 0.0
	if len(all) > 0 {
		successRate = float64(results.Completed) / float64(len(all)) * 100
	}
	log.Info().
		Float64("completion_rate", successRate).
		Int("total_offers", len(all)).
		Float64("decrypted_value", results.TotalValue).
		Dur("duration", duration).
		Msg("Simulation completed")

	api.printPerformanceStats()
}

// startServer runs the API on an in-memory ledger in the background
func startServer() (*config.Config, error) {
	cfg := &config.Config{
		Env:            "simulation",
		Port:           serverPort,
		JWTSecret:      "fhenergy-simulation-key",
		InternalSecret: "fhenergy-simulation-internal-key",
		NetworkID:      11155111,
		Ledger: config.LedgerConfig{
			Backend:         config.BackendMemory,
			ContractAddress: "0x00000000000000000000000000000000000000e1",
		},
		Session:    config.SessionConfig{DurationDays: 30},
		Decryption: config.DecryptionConfig{VerifySignatures: true},
		Reconcile:  config.ReconcileConfig{Interval: time.Minute},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l, _, err := server.OpenLedger(cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	srv, err := server.New(cfg, l, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	go func() {
		if err := srv.Router().Run(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("Server stopped")
		}
	}()
	return cfg, nil
}
