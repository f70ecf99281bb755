// Package mt5 is the execution gateway over the external MetaTrader-5
// bridge. It owns the bridge connection lifecycle, a TTL price cache, volume
// normalisation, the market-hours gate and the retry policy; callers get
// normalised results and errors of the domain taxonomy.
package mt5

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aurify/goldtrade/internal/types"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultCacheTTL   = 15 * time.Second
	defaultMaxRetries = 3
	retryDelay        = time.Second
	baseDeviation     = 20
	deviationStep     = 10
	maxConnectBackoff = time.Minute
)

// The market-hours gate runs on the Gulf trading day.
var gulfTZ = time.FixedZone("UTC+4", 4*60*60)

// Config carries the bridge connection settings. HTTPClient and Now are
// injectable for tests; zero values get sensible defaults.
type Config struct {
	BaseURL    string
	Server     string
	Login      string
	Password   string
	Timeout    time.Duration
	CacheTTL   time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Now        func() time.Time
}

// Client is the process-wide bridge gateway. The price cache is
// mutex-guarded; the background refresher publishes immutable snapshots
// through an atomic slot that readers load without locking.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	mu    sync.Mutex
	state string
	cache map[string]*Quote

	snapshot atomic.Value // map[string]Quote
}

// NewClient builds a disconnected bridge client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	c := &Client{
		cfg:   cfg,
		http:  httpClient,
		now:   now,
		state: StateDisconnected,
		cache: make(map[string]*Quote),
	}
	c.snapshot.Store(map[string]Quote{})
	return c
}

// State returns CONNECTED or DISCONNECTED.
func (c *Client) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(state string) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// Connect performs a single /connect attempt.
func (c *Client) Connect(ctx context.Context) error {
	payload := map[string]string{
		"server":   c.cfg.Server,
		"login":    c.cfg.Login,
		"password": c.cfg.Password,
	}
	if err := c.post(ctx, "/connect", payload, nil); err != nil {
		return err
	}
	c.setState(StateConnected)
	log.Info().Str("server", c.cfg.Server).Msg("connected to MT5 bridge")
	return nil
}

// ConnectWithRetry drives Connect with exponential back-off up to a ceiling
// until it succeeds or the context is cancelled.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	backoff := time.Second
	for {
		err := c.Connect(ctx)
		if err == nil {
			return nil
		}
		log.Warn().Err(err).Dur("backoff", backoff).Msg("bridge connect failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxConnectBackoff {
			backoff = maxConnectBackoff
		}
	}
}

// Shutdown disconnects from the bridge. Errors are logged, not returned: the
// process is going away either way.
func (c *Client) Shutdown(ctx context.Context) {
	if err := c.post(ctx, "/disconnect", struct{}{}, nil); err != nil {
		log.Warn().Err(err).Msg("bridge disconnect failed")
	}
	c.setState(StateDisconnected)
}

// Symbols lists the bridge's known symbol names.
func (c *Client) Symbols(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.get(ctx, "/symbols", &names); err != nil {
		return nil, err
	}
	return names, nil
}

// SymbolInfo fetches trading metadata for a bridge symbol.
func (c *Client) SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	var info SymbolInfo
	if err := c.get(ctx, "/symbol_info/"+url.PathEscape(symbol), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ResolveSymbol maps a product symbol to a tradable bridge symbol: the exact
// name when its trade mode allows trading, otherwise the first tradable
// alternate whose name contains "xau" or "gold".
func (c *Client) ResolveSymbol(ctx context.Context, symbol string) (string, error) {
	info, err := c.SymbolInfo(ctx, symbol)
	if err == nil && info.TradeMode != 0 {
		return info.Name, nil
	}

	names, err := c.Symbols(ctx)
	if err != nil {
		return "", err
	}
	for _, name := range names {
		lower := strings.ToLower(name)
		if !strings.Contains(lower, "xau") && !strings.Contains(lower, "gold") {
			continue
		}
		alt, err := c.SymbolInfo(ctx, name)
		if err != nil || alt.TradeMode == 0 {
			continue
		}
		log.Info().Str("requested", symbol).Str("resolved", name).Msg("resolved alternate bridge symbol")
		return name, nil
	}
	return "", types.NewDomainError(types.KindBridgeRejected, "no tradable symbol for %s", symbol)
}

// Quote returns the symbol's market data, served from the cache while it is
// within the TTL. force bypasses the cache; the trade coordinator uses it for
// settlement prices.
func (c *Client) Quote(ctx context.Context, symbol string, force bool) (*Quote, error) {
	if !force {
		c.mu.Lock()
		cached, ok := c.cache[symbol]
		c.mu.Unlock()
		if ok && c.now().UnixNano()-cached.FetchedAt < int64(c.cfg.CacheTTL) {
			q := *cached
			return &q, nil
		}
	}

	var q Quote
	if err := c.get(ctx, "/price/"+url.PathEscape(symbol), &q); err != nil {
		return nil, err
	}
	q.FetchedAt = c.now().UnixNano()

	c.mu.Lock()
	c.cache[symbol] = &q
	c.mu.Unlock()

	out := q
	return &out, nil
}

// NormalizeVolume clamps a lot volume into the symbol's [min, max] band after
// rounding to the nearest volume step.
func NormalizeVolume(volume float64, info *SymbolInfo) float64 {
	if info.VolumeStep > 0 {
		volume = math.Round(volume/info.VolumeStep) * info.VolumeStep
	}
	return math.Max(info.VolumeMin, math.Min(info.VolumeMax, volume))
}

// gateMarket rejects placements outside trading hours: the symbol's trade
// mode must allow dealing and the Gulf trading day runs Monday to Friday.
func (c *Client) gateMarket(info *SymbolInfo) error {
	if info.TradeMode == 0 {
		return types.NewDomainError(types.KindMarketClosed, "symbol %s is not tradable", info.Name)
	}
	switch c.now().In(gulfTZ).Weekday() {
	case time.Saturday, time.Sunday:
		return types.NewDomainError(types.KindMarketClosed, "market closed on weekends")
	}
	return nil
}

// Place executes a market order. Requotes and price changes are retried with
// a 1s linear back-off and a widening deviation; parameter and funding
// failures surface immediately.
func (c *Client) Place(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	logger := log.With().
		Str("component", "mt5").
		Str("symbol", req.Symbol).
		Str("type", req.Type).
		Float64("volume", req.Volume).
		Logger()

	info, err := c.SymbolInfo(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	if err := c.gateMarket(info); err != nil {
		return nil, err
	}
	req.Volume = NormalizeVolume(req.Volume, info)

	deviation := baseDeviation
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		req.Deviation = deviation

		var result TradeResult
		err := c.post(ctx, "/trade", req, &result)
		if err == nil {
			logger.Info().
				Int64("deal", result.Deal).
				Float64("price", result.Price).
				Float64("fill_volume", result.Volume).
				Msg("order placed on bridge")
			return &result, nil
		}
		lastErr = err

		de, ok := err.(*types.DomainError)
		if !ok || !retryable(de.Retcode) {
			return nil, err
		}

		logger.Warn().
			Int("retcode", de.Retcode).
			Int("attempt", attempt+1).
			Int("deviation", deviation).
			Msg("retryable bridge error, re-driving order")
		deviation += deviationStep
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, lastErr
}

// ClosePosition closes a bridge position. When the bridge reports the
// position missing (or answers HTTP 400) the position was most likely closed
// out-of-band; the current side-appropriate quote is returned as the closing
// price with LikelyClosed set, and the caller settles against it.
func (c *Client) ClosePosition(ctx context.Context, req CloseRequest) (*CloseResult, error) {
	logger := log.With().
		Str("component", "mt5").
		Str("ticket", req.Ticket).
		Str("symbol", req.Symbol).
		Logger()

	info, err := c.SymbolInfo(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	if err := c.gateMarket(info); err != nil {
		return nil, err
	}

	var result CloseResult
	err = c.post(ctx, "/close", req, &result)
	if err == nil {
		logger.Info().Int64("deal", result.Deal).Float64("price", result.Price).Msg("position closed on bridge")
		return &result, nil
	}

	de, ok := err.(*types.DomainError)
	if !ok {
		return nil, err
	}
	if !positionLost(de) {
		return nil, err
	}

	q, qerr := c.Quote(ctx, req.Symbol, true)
	if qerr != nil {
		return nil, qerr
	}
	price := q.Bid
	if req.Side == types.SideSell {
		price = q.Ask
	}
	logger.Warn().Float64("fallback_price", price).Msg("position lost on bridge, settling at current quote")
	return &CloseResult{
		Price:        price,
		Symbol:       req.Symbol,
		PositionType: req.Side,
		LikelyClosed: true,
	}, nil
}

// positionLost matches the bridge's "position not found" shapes: the message
// text or any HTTP 400 rejection of the close.
func positionLost(de *types.DomainError) bool {
	if de.Kind != types.KindBridgeRejected {
		return false
	}
	return strings.Contains(strings.ToLower(de.Message), "not found") || de.Retcode == http.StatusBadRequest
}

// Health probes the bridge's /health endpoint and reports whether the bridge
// itself holds a terminal connection.
func (c *Client) Health(ctx context.Context) (bool, error) {
	var status struct {
		Status    string `json:"status"`
		Connected bool   `json:"connected"`
	}
	if err := c.get(ctx, "/health", &status); err != nil {
		return false, err
	}
	return status.Connected, nil
}

// Positions lists the bridge's open positions.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var positions []Position
	if err := c.get(ctx, "/positions", &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// StartRefresher polls quotes for the given symbols and publishes immutable
// snapshots to the atomic slot until the context is cancelled. It only reads
// through Quote, so the coordinator and the refresher share one cache.
func (c *Client) StartRefresher(ctx context.Context, symbols []string, interval time.Duration) {
	logger := log.With().Str("component", "mt5_refresher").Logger()
	logger.Info().Strs("symbols", symbols).Dur("interval", interval).Msg("starting price refresher")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down price refresher")
			return
		case <-ticker.C:
			snap := make(map[string]Quote, len(symbols))
			for _, symbol := range symbols {
				q, err := c.Quote(ctx, symbol, true)
				if err != nil {
					logger.Warn().Err(err).Str("symbol", symbol).Msg("refresh failed")
					continue
				}
				snap[symbol] = *q
			}
			if len(snap) > 0 {
				c.snapshot.Store(snap)
			}
		}
	}
}

// Snapshot returns the refresher's last published quote map. The map is
// immutable; callers must not mutate it.
func (c *Client) Snapshot() map[string]Quote {
	return c.snapshot.Load().(map[string]Quote)
}

// bridgeEnvelope is the wire envelope of every bridge response.
type bridgeEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return types.NewDomainError(types.KindBridgeUnavailable, "bridge request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.NewDomainError(types.KindBridgeUnavailable, "bridge response unreadable: %v", err)
	}

	var env bridgeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return types.NewDomainError(types.KindBridgeUnavailable, "bridge returned malformed response (status %d)", resp.StatusCode)
	}
	if !env.Success {
		return parseBridgeError(env.Error, resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return types.NewDomainError(types.KindBridgeUnavailable, "bridge data undecodable: %v", err)
		}
	}
	return nil
}

var retcodePattern = regexp.MustCompile(`\b(10\d{3})\b`)

// parseBridgeError normalises the bridge's two error shapes (a bare string
// or a {code, message} object) into a DomainError, extracting the retcode
// where one is present.
func parseBridgeError(raw json.RawMessage, httpStatus int) *types.DomainError {
	var message string
	var retcode int

	var obj struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		message = obj.Message
		retcode = obj.Code
	} else {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			message = s
		} else {
			message = string(raw)
		}
	}

	if retcode == 0 {
		if m := retcodePattern.FindString(message); m != "" {
			fmt.Sscanf(m, "%d", &retcode)
		} else {
			for code, text := range retcodeMessages {
				if strings.Contains(message, text) {
					retcode = code
					break
				}
			}
		}
	}

	if retcode == RetcodeMarketClosed {
		return &types.DomainError{Kind: types.KindMarketClosed, Message: message, Retcode: retcode}
	}
	if retcode == 0 && httpStatus == http.StatusBadRequest {
		// No structured retcode; carry the HTTP status so close fallback
		// can recognise a flat 400.
		return &types.DomainError{Kind: types.KindBridgeRejected, Message: message, Retcode: httpStatus}
	}
	return &types.DomainError{Kind: types.KindBridgeRejected, Message: message, Retcode: retcode}
}
