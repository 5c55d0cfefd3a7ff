package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksred/brokerlink-api/internal/config"
	"github.com/ksred/brokerlink-api/internal/database"
	"github.com/ksred/brokerlink-api/internal/server"
)

const (
	minTrades   = 3
	maxTrades   = 12
	numWorkers  = 5
	internalKey = "simulation-internal-key"
)

var (
	symbols = []string{"INFY", "TCS", "RELIANCE", "HDFCBANK", "ITC"}
	sides   = []string{"BUY", "BUY", "SELL"}
)

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

func (rs *routeStats) record(d time.Duration, failed bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if failed {
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

// fakeKite stands in for Kite Connect. Every session it issues stays valid
// and quotes are random walks around a fixed base.
type fakeKite struct {
	mu     sync.Mutex
	prices map[string]float64
}

func newFakeKite() *fakeKite {
	prices := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		prices[sym] = float64(rand.Intn(2000) + 100)
	}
	return &fakeKite{prices: prices}
}

func (k *fakeKite) price(symbol string) float64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	p := k.prices[symbol] * (0.98 + rand.Float64()*0.04)
	k.prices[symbol] = math.Round(p*100) / 100
	return k.prices[symbol]
}

func (k *fakeKite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	write := func(data any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": data})
	}

	switch r.URL.Path {
	case "/session/token":
		_ = r.ParseForm()
		rt := r.PostForm.Get("request_token")
		write(map[string]any{
			"user_id":       "SIM" + rt,
			"user_name":     "Simulated " + rt,
			"email":         rt + "@sim.local",
			"broker":        "ZERODHA",
			"api_key":       "sim-key",
			"access_token":  "access-" + rt,
			"public_token":  "public-" + rt,
			"refresh_token": "refresh-" + rt,
		})
	case "/session/refresh_token":
		write(map[string]any{"access_token": "access-" + uuid.NewString()})
	case "/user/margins":
		write(map[string]any{"equity": map[string]any{"available": map[string]any{"cash": 100000.0}}})
	case "/quote":
		out := make(map[string]any)
		for _, inst := range r.URL.Query()["i"] {
			sym := strings.TrimPrefix(inst, "NSE:")
			p := k.price(sym)
			out[inst] = map[string]any{"last_price": p, "average_price": p}
		}
		write(out)
	default:
		http.NotFound(w, r)
	}
}

// simulationClient drives the API the way the mobile app and Kite would
type simulationClient struct {
	client *resty.Client
	kite   *fakeKite
	stats  map[string]*routeStats
}

func newSimulationClient(baseURL string, kite *fakeKite) *simulationClient {
	return &simulationClient{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second),
		kite: kite,
		stats: map[string]*routeStats{
			"register":  {name: "Register"},
			"token":     {name: "Token"},
			"link":      {name: "Kite Redirect"},
			"renew":     {name: "Renew"},
			"trade":     {name: "Place Trade"},
			"handoff":   {name: "Execute Handoff"},
			"postback":  {name: "Postback"},
			"portfolio": {name: "Portfolio"},
		},
	}
}

type envelope map[string]any

// call issues one request and records its latency under route. A status
// other than want counts as a failure.
func (sc *simulationClient) call(route string, req *resty.Request, method, path string, want int) (envelope, error) {
	var out envelope
	req.SetResult(&out).SetError(&out)

	start := time.Now()
	resp, err := req.Execute(method, path)
	failed := err != nil || resp.StatusCode() != want
	sc.stats[route].record(time.Since(start), failed)

	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != want {
		return out, fmt.Errorf("%s %s: status %d: %v", method, path, resp.StatusCode(), out["errors"])
	}
	return out, nil
}

type simUser struct {
	id    uint
	uuid  string
	token string
}

func (sc *simulationClient) onboard(workerID int) (*simUser, error) {
	creds := map[string]string{
		"email":    fmt.Sprintf("worker%d-%s@sim.local", workerID, uuid.NewString()[:8]),
		"password": "simulation-password",
	}

	body, err := sc.call("register", sc.client.R().SetBody(creds), http.MethodPost, "/api/v1/auth/register", http.StatusCreated)
	if err != nil {
		return nil, err
	}
	user := body["user"].(map[string]any)
	u := &simUser{id: uint(user["id"].(float64)), uuid: user["uuid"].(string)}

	body, err = sc.call("token", sc.client.R().SetBody(creds), http.MethodPost, "/api/v1/auth/token", http.StatusOK)
	if err != nil {
		return nil, err
	}
	u.token = body["token"].(string)

	q := url.Values{
		"action":        {"login"},
		"type":          {"login"},
		"status":        {"success"},
		"request_token": {strconv.Itoa(workerID) + "-" + u.uuid[:8]},
		"uuid":          {u.uuid},
	}
	start := time.Now()
	resp, err := sc.client.R().SetQueryParamsFromValues(q).Get("/api/v1/zerodha/redirect/")
	linked := err == nil && strings.Contains(resp.String(), "linked successfully")
	sc.stats["link"].record(time.Since(start), !linked)
	if !linked {
		return nil, fmt.Errorf("kite link failed for %s: %v", u.uuid, err)
	}

	renewal := map[string]any{"amount": 999, "transaction_id": "sim-" + uuid.NewString()}
	_, err = sc.call("renew",
		sc.client.R().SetHeader("X-Internal-Key", internalKey).SetBody(renewal),
		http.MethodPost, fmt.Sprintf("/api/v1/internal/subscription/%d/renew", u.id), http.StatusOK)
	if err != nil {
		return nil, err
	}
	return u, nil
}

type tradeResult struct {
	symbol string
	side   string
	amount float64
}

// trade runs one order through placement, handoff and the broker postback.
// Some postbacks are delivered twice to exercise reconciliation.
func (sc *simulationClient) trade(u *simUser) (*tradeResult, error) {
	symbol := symbols[rand.Intn(len(symbols))]
	side := sides[rand.Intn(len(sides))]
	qty := rand.Intn(50) + 1

	req := sc.client.R().
		SetAuthToken(u.token).
		SetHeader("Idempotency-Key", uuid.NewString()).
		SetBody(map[string]any{
			"trading_symbol":   symbol,
			"transaction_type": side,
			"quantity":         qty,
			"rationale":        "simulation",
		})
	body, err := sc.call("trade", req, http.MethodPost, "/api/v1/trades/", http.StatusCreated)
	if err != nil {
		return nil, err
	}
	orderID := strconv.Itoa(int(body["transaction_id"].(float64)))
	tradeURL, err := url.Parse(body["trade_url"].(string))
	if err != nil {
		return nil, err
	}

	body, err = sc.call("handoff", sc.client.R().SetHeader("Accept", "application/json"), http.MethodGet, tradeURL.Path, http.StatusOK)
	if err != nil {
		return nil, err
	}
	if body["basket_url"] == nil {
		return nil, fmt.Errorf("handoff for order %s returned no basket", orderID)
	}

	price := sc.kite.price(symbol)
	postback := map[string]any{
		"tag":           orderID,
		"status":        "COMPLETE",
		"average_price": price,
		"quantity":      qty,
	}
	deliveries := 1 + rand.Intn(2)
	for i := 0; i < deliveries; i++ {
		body, err = sc.call("postback", sc.client.R().SetBody(postback), http.MethodPost, "/api/v1/zerodha/post-back/", http.StatusOK)
		if err != nil {
			return nil, err
		}
		if body["msg"] != "Done" {
			return nil, fmt.Errorf("postback for order %s answered %v", orderID, body["msg"])
		}
	}

	return &tradeResult{symbol: symbol, side: side, amount: price * float64(qty)}, nil
}

func (sc *simulationClient) portfolio(u *simUser) (envelope, error) {
	return sc.call("portfolio", sc.client.R().SetAuthToken(u.token), http.MethodGet, "/api/v1/portfolio/", http.StatusOK)
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	names := make([]string, 0, len(sc.stats))
	for k := range sc.stats {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, k := range names {
		stats := sc.stats[k]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Microsecond),
			max.Round(time.Microsecond),
			mean.Round(time.Microsecond),
			median.Round(time.Microsecond),
			p95.Round(time.Microsecond),
			p99.Round(time.Microsecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// startServer builds the full application on a throwaway database with
// Kite replaced by kiteURL.
func startServer(dir, kiteURL string) (*server.App, *httptest.Server, error) {
	db, err := database.NewDatabase(config.Database{Path: filepath.Join(dir, "simulation.db")})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	srv := httptest.NewUnstartedServer(nil)
	cfg := &config.Config{
		Env:  "simulation",
		HTTP: config.HTTP{PublicBaseURL: "http://" + srv.Listener.Addr().String()},
		Auth: config.Auth{
			JWTSecret:      "simulation-secret",
			TokenTTL:       time.Hour,
			InternalAPIKey: internalKey,
		},
		Broker: config.Broker{
			APIKey:    "sim-key",
			APISecret: "sim-secret",
			BaseURL:   kiteURL,
			LoginURL:  kiteURL + "/connect/login",
			BasketURL: kiteURL + "/connect/basket",
			Exchange:  "NSE",
			Timeout:   5 * time.Second,
		},
		FCM:          config.FCM{URL: kiteURL + "/fcm", Timeout: time.Second},
		Subscription: config.Subscription{YearlyPrice: 999},
	}

	app := server.New(cfg, db)
	srv.Config.Handler = app.Router()
	srv.Start()
	return app, srv, nil
}

// main runs the brokerage simulation
// It starts the API in-process against a fake Kite and drives concurrent users
// through linking, trading, handoff and reconciliation.
func main() {
	gin.SetMode(gin.ReleaseMode)

	dir, err := os.MkdirTemp("", "brokerlink-simulation")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create work dir")
	}
	defer os.RemoveAll(dir)

	kite := newFakeKite()
	kiteSrv := httptest.NewServer(kite)
	defer kiteSrv.Close()

	app, apiSrv, err := startServer(dir, kiteSrv.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
	defer apiSrv.Close()

	ctx := context.Background()
	for _, sym := range symbols {
		if _, err := app.Quotes.TrackSymbol(ctx, sym, ""); err != nil {
			log.Fatal().Err(err).Str("symbol", sym).Msg("Failed to track symbol")
		}
	}

	simClient := newSimulationClient(apiSrv.URL, kite)

	stats := struct {
		mu           sync.Mutex
		Users        int
		Trades       int
		FailedTrades int
		TotalValue   float64
		StartTime    time.Time
		Symbols      map[string]int
		Sides        map[string]int
	}{
		StartTime: time.Now(),
		Symbols:   make(map[string]int),
		Sides:     make(map[string]int),
	}

	users := make([]*simUser, numWorkers)
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			u, err := simClient.onboard(workerID)
			if err != nil {
				log.Error().Err(err).Int("worker_id", workerID).Msg("Failed to onboard user")
				return
			}
			users[workerID] = u

			target := rand.Intn(maxTrades-minTrades) + minTrades
			for j := 0; j < target; j++ {
				res, err := simClient.trade(u)

				stats.mu.Lock()
				if err != nil {
					stats.FailedTrades++
				} else {
					stats.Trades++
					stats.TotalValue += res.amount
					stats.Symbols[res.symbol]++
					stats.Sides[res.side]++
				}
				stats.mu.Unlock()

				if err != nil {
					log.Error().Err(err).Int("worker_id", workerID).Msg("Trade failed")
					continue
				}
				log.Info().
					Int("worker_id", workerID).
					Str("symbol", res.symbol).
					Str("side", res.side).
					Float64("amount", res.amount).
					Msg("Trade reconciled")

				time.Sleep(time.Duration(rand.Intn(100)) * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	if err := app.Quotes.RefreshQuotes(ctx); err != nil {
		log.Error().Err(err).Msg("Quote refresh failed")
	}
	if err := app.Portfolio.Recompute(ctx); err != nil {
		log.Error().Err(err).Msg("Portfolio recompute failed")
	}

	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🚀 BROKERAGE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Trade Statistics
------------------
Users:            %d
Reconciled:       %d
Failed:           %d
Total Value:      ₹%.2f
Duration:         %v

📈 Symbol Distribution
--------------------
`, numWorkers, stats.Trades, stats.FailedTrades, stats.TotalValue, duration.Round(time.Millisecond))

	maxSymbolCount := 0
	for _, count := range stats.Symbols {
		if count > maxSymbolCount {
			maxSymbolCount = count
		}
	}
	for symbol, count := range stats.Symbols {
		barLength := int(float64(count) / float64(maxSymbolCount) * 20)
		fmt.Printf("%-9s: %s (%d)\n", symbol, strings.Repeat("█", barLength), count)
	}

	fmt.Println("\n📉 Side Distribution")
	fmt.Println("------------------")
	for side, count := range stats.Sides {
		barLength := int(float64(count) / float64(max(stats.Trades, 1)) * 20)
		fmt.Printf("%-4s: %s (%d)\n", side, strings.Repeat("█", barLength), count)
	}

	fmt.Println("\n💼 Portfolios")
	fmt.Println("------------------")
	for i, u := range users {
		if u == nil {
			continue
		}
		body, err := simClient.portfolio(u)
		if err != nil {
			log.Error().Err(err).Int("worker_id", i).Msg("Failed to load portfolio")
			continue
		}
		fmt.Printf("user %-3d purchase ₹%12.2f  current ₹%12.2f  orders %v\n",
			u.id, body["total_purchase_value"], body["total_current_value"], body["transaction_count"])
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	successRate := float64(stats.Trades) / float64(max(stats.Trades+stats.FailedTrades, 1)) * 100
	log.Info().
		Float64("success_rate", successRate).
		Int("trades", stats.Trades).
		Float64("total_value", stats.TotalValue).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}
