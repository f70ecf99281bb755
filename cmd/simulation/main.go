// Command simulation runs a self-contained end-to-end drive of the trading
// API: it starts a stub MT5 bridge and the API server in-process, registers
// an admin, funds accounts, then opens and closes random gold trades over
// HTTP while collecting per-endpoint latency statistics.
package main

import (
	"bytes"
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

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aurify/goldtrade/internal/accounts"
	"github.com/aurify/goldtrade/internal/auth"
	"github.com/aurify/goldtrade/internal/database"
	"github.com/aurify/goldtrade/internal/mt5"
	"github.com/aurify/goldtrade/internal/trading"
	"github.com/aurify/goldtrade/internal/types"
)

const (
	minTrades     = 10
	maxTrades     = 60
	numWorkers    = 4
	numAccounts   = 5
	serverAddress = "http://localhost:8080"
	bridgeAddress = ":5099"
	bridgeSymbol  = "XAUUSD.r"
)

var (
	symbols = []string{"TTBAR", "KGBAR"}
	sides   = []string{types.SideBuy, types.SideSell}
)

func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes min, max, mean, median, p95 and p99 durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
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

// stubBridge emulates the MT5 bridge with a random walk around a gold price.
type stubBridge struct {
	mu     sync.Mutex
	price  float64
	ticket int64
}

func (b *stubBridge) quote() (bid, ask float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.price += (rand.Float64() - 0.5) * 2
	return b.price - 0.15, b.price + 0.15
}

func (b *stubBridge) nextTicket() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ticket++
	return b.ticket
}

func ok(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": data})
}

// startBridge serves the bridge endpoints the gateway client calls.
func startBridge() error {
	bridge := &stubBridge{price: 2400}
	mux := http.NewServeMux()

	mux.HandleFunc("/connect", func(w http.ResponseWriter, r *http.Request) {
		ok(w, map[string]interface{}{"connected": true})
	})
	mux.HandleFunc("/symbols", func(w http.ResponseWriter, r *http.Request) {
		ok(w, []string{bridgeSymbol})
	})
	mux.HandleFunc("/symbol_info/", func(w http.ResponseWriter, r *http.Request) {
		ok(w, mt5.SymbolInfo{
			Name: bridgeSymbol, TradeMode: 4,
			VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01,
		})
	})
	mux.HandleFunc("/price/", func(w http.ResponseWriter, r *http.Request) {
		bid, ask := bridge.quote()
		ok(w, mt5.Quote{Symbol: bridgeSymbol, Bid: bid, Ask: ask, Time: time.Now().Format(time.RFC3339)})
	})
	mux.HandleFunc("/trade", func(w http.ResponseWriter, r *http.Request) {
		var req mt5.TradeRequest
		json.NewDecoder(r.Body).Decode(&req)
		bid, ask := bridge.quote()
		price := ask
		if req.Type == types.SideSell {
			price = bid
		}
		ok(w, mt5.TradeResult{
			Order: bridge.nextTicket(), Deal: bridge.nextTicket(),
			Volume: req.Volume, Price: price, Retcode: 10009,
		})
	})
	mux.HandleFunc("/close", func(w http.ResponseWriter, r *http.Request) {
		var req mt5.CloseRequest
		json.NewDecoder(r.Body).Decode(&req)
		bid, _ := bridge.quote()
		ok(w, mt5.CloseResult{Deal: bridge.nextTicket(), Retcode: 10009, Price: bid, Symbol: bridgeSymbol})
	})

	return http.ListenAndServe(bridgeAddress, mux)
}

// startServer initializes and starts the trading API server with public
// routes, matching the production layout minus the JWT middleware.
func startServer() error {
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	client := mt5.NewClient(mt5.Config{BaseURL: "http://localhost" + bridgeAddress})

	authService := auth.NewService(db, "simulation-secret")
	accountService := accounts.NewService(db)
	tradingService := trading.NewService(db, client, bridgeSymbol)

	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	accountHandlers := accounts.NewGinHandlers(accountService)
	tradingHandlers := trading.NewGinHandlers(tradingService)

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandlers.RegisterHandler())
			authGroup.POST("/login", authHandlers.LoginHandler())
		}

		v1.POST("/accounts/:admin_id", accountHandlers.CreateAccountHandler())
		v1.POST("/create-order/:admin_id", tradingHandlers.CreateOrderHandler())
		v1.GET("/order/:admin_id/:order_id", tradingHandlers.GetOrderHandler())
		v1.PATCH("/order/:admin_id/:order_id", tradingHandlers.CloseOrderHandler())
	}

	return router.Run(":8080")
}

// simulationClient handles HTTP communication with the trading API
type simulationClient struct {
	baseURL string
	adminID string
	token   string
	client  *http.Client

	mu    sync.Mutex
	stats map[string]*routeStats
}

func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"register": {name: "Register Admin"},
			"account":  {name: "Create Account"},
			"open":     {name: "Open Trade"},
			"close":    {name: "Close Trade"},
		},
	}
	if err := sc.registerAdmin(); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *simulationClient) record(route string, start time.Time, failed bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	rs := sc.stats[route]
	rs.addDuration(time.Since(start))
	if failed {
		rs.failures++
	}
}

func (sc *simulationClient) post(method, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, sc.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sc.token != "" {
		req.Header.Set("Authorization", "Bearer "+sc.token)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
		}
	}
	return nil
}

func (sc *simulationClient) registerAdmin() error {
	start := time.Now()

	email := fmt.Sprintf("sim-%s@goldtrade.local", uuid.New().String()[:8])
	password := "simulation-pass"

	var reg struct {
		Data auth.Admin `json:"data"`
	}
	err := sc.post("POST", "/api/v1/auth/register", map[string]string{
		"email":    email,
		"name":     "Simulation Admin",
		"password": password,
	}, &reg)
	sc.record("register", start, err != nil)
	if err != nil {
		return err
	}
	sc.adminID = reg.Data.AdminID

	var login struct {
		Data auth.TokenResponse `json:"data"`
	}
	if err := sc.post("POST", "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &login); err != nil {
		return err
	}
	sc.token = login.Data.Token
	return nil
}

func (sc *simulationClient) createAccount(accountID string) error {
	start := time.Now()
	err := sc.post("POST", "/api/v1/accounts/"+sc.adminID, types.Account{
		AccountID:      accountID,
		AccountHead:    "Simulation " + accountID,
		ReservedAmount: 50_000_000,
		AmountFC:       50_000_000,
		MarginPercent:  100,
		AskSpread:      0.5,
		BidSpread:      0.5,
	}, nil)
	sc.record("account", start, err != nil)
	return err
}

func (sc *simulationClient) openTrade(accountID string) (*trading.OpenResult, error) {
	start := time.Now()

	symbol := symbols[rand.Intn(len(symbols))]
	volume := float64(rand.Intn(3)+1) * 0.5
	margin := 5_000_000.0
	if symbol == "KGBAR" {
		margin = 40_000_000.0
	}

	payload := map[string]interface{}{
		"user_id":         accountID,
		"order_no":        "SIM-" + uuid.New().String()[:13],
		"type":            sides[rand.Intn(len(sides))],
		"symbol":          symbol,
		"volume":          volume,
		"price":           2400,
		"required_margin": margin * volume,
	}

	var result struct {
		Data trading.OpenResult `json:"data"`
	}
	err := sc.post("POST", "/api/v1/create-order/"+sc.adminID, payload, &result)
	sc.record("open", start, err != nil)
	if err != nil {
		return nil, err
	}
	return &result.Data, nil
}

func (sc *simulationClient) closeTrade(orderNo string) (*trading.CloseOutcome, error) {
	start := time.Now()

	var result struct {
		Data trading.CloseOutcome `json:"data"`
	}
	err := sc.post("PATCH", fmt.Sprintf("/api/v1/order/%s/%s", sc.adminID, orderNo),
		map[string]string{"order_status": types.OrderStatusClosed}, &result)
	sc.record("close", start, err != nil)
	if err != nil {
		return nil, err
	}
	return &result.Data, nil
}

func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
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

func main() {
	go func() {
		if err := startBridge(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start stub bridge")
		}
	}()
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for both servers to come up
	time.Sleep(2 * time.Second)

	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	accountIDs := make([]string, 0, numAccounts)
	for i := 0; i < numAccounts; i++ {
		accountID := fmt.Sprintf("SIMACC%03d", i+1)
		if err := simClient.createAccount(accountID); err != nil {
			log.Fatal().Err(err).Str("account_id", accountID).Msg("Failed to create account")
		}
		accountIDs = append(accountIDs, accountID)
	}
	log.Info().Int("accounts", len(accountIDs)).Str("admin_id", simClient.adminID).Msg("Accounts funded")

	targetTrades := rand.Intn(maxTrades-minTrades) + minTrades
	log.Info().Int("target_trades", targetTrades).Msg("Starting simulation")

	ordersChan := make(chan string, targetTrades)
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			openTrades(workerID, targetTrades/numWorkers, simClient, accountIDs, ordersChan)
		}(i)
	}
	wg.Wait()
	close(ordersChan)

	var orderNos []string
	for orderNo := range ordersChan {
		orderNos = append(orderNos, orderNo)
	}
	log.Info().Int("trades_opened", len(orderNos)).Msg("All trades opened")

	stats := struct {
		Opened       int
		Closed       int
		FailedOpens  int
		FailedCloses int
		ClientPL     float64
		DeskProfit   float64
		StartTime    time.Time
	}{
		Opened:      len(orderNos),
		FailedOpens: targetTrades/numWorkers*numWorkers - len(orderNos),
		StartTime:   time.Now(),
	}

	for _, orderNo := range orderNos {
		outcome, err := simClient.closeTrade(orderNo)
		if err != nil {
			log.Error().Err(err).Str("order_no", orderNo).Msg("Failed to close trade")
			stats.FailedCloses++
			continue
		}
		stats.Closed++
		stats.ClientPL += outcome.Profit.Client
		stats.DeskProfit += outcome.Profit.LP
		log.Info().
			Str("order_no", orderNo).
			Float64("profit", outcome.Profit.Client).
			Bool("mt5_synchronized", outcome.MT5Synchronized).
			Msg("Trade closed")
	}

	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("GOLD TRADING SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Trades Opened:    %d
Trades Closed:    %d
Failed Opens:     %d
Failed Closes:    %d
Client P&L (AED): %.2f
Desk Spread(AED): %.2f
Duration:         %v
`, stats.Opened, stats.Closed, stats.FailedOpens, stats.FailedCloses,
		stats.ClientPL, stats.DeskProfit, duration.Round(time.Millisecond))
	fmt.Println(strings.Repeat("=", 80))

	simClient.printPerformanceStats()
}

// openTrades runs as a worker goroutine, sending opened order numbers to
// ordersChan.
func openTrades(workerID, numTrades int, simClient *simulationClient, accountIDs []string, ordersChan chan<- string) {
	for i := 0; i < numTrades; i++ {
		accountID := accountIDs[rand.Intn(len(accountIDs))]
		result, err := simClient.openTrade(accountID)
		if err != nil {
			log.Error().Err(err).
				Int("worker_id", workerID).
				Str("account_id", accountID).
				Msg("Failed to open trade")
			continue
		}

		ordersChan <- result.ClientOrder.OrderNo
		log.Info().
			Int("worker_id", workerID).
			Str("order_no", result.ClientOrder.OrderNo).
			Str("symbol", result.ClientOrder.Symbol).
			Str("side", result.ClientOrder.Type).
			Float64("fill_price", result.PriceDetails.MT5).
			Float64("cash", result.Balances.Cash).
			Msg("Trade opened")

		time.Sleep(time.Duration(rand.Intn(300)) * time.Millisecond)
	}
}
