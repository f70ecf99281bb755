package mt5

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurify/goldtrade/internal/types"
)

// a Monday during trading hours, used as the default test clock
var tradingClock = time.Date(2024, 6, 3, 12, 0, 0, 0, gulfTZ)

type bridgeStub struct {
	mu       sync.Mutex
	mux      *http.ServeMux
	trades   []TradeRequest
	tradeFn  func(attempt int, req TradeRequest) (interface{}, int, bool)
	closeFn  func(req CloseRequest) (interface{}, int, bool)
	info     SymbolInfo
	quote    Quote
	quoteHit int
}

func newBridgeStub() *bridgeStub {
	b := &bridgeStub{
		info: SymbolInfo{
			Name: "XAUUSD.r", TradeMode: 4,
			VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01,
		},
		quote: Quote{Symbol: "XAUUSD.r", Bid: 2399.5, Ask: 2400.5},
	}
	b.mux = http.NewServeMux()
	b.mux.HandleFunc("/connect", func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, map[string]bool{"connected": true})
	})
	b.mux.HandleFunc("/symbols", func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, []string{"EURUSD", "XAUUSD.r"})
	})
	b.mux.HandleFunc("/symbol_info/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		info := b.info
		b.mu.Unlock()
		writeSuccess(w, info)
	})
	b.mux.HandleFunc("/price/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.quoteHit++
		q := b.quote
		b.mu.Unlock()
		writeSuccess(w, q)
	})
	b.mux.HandleFunc("/trade", func(w http.ResponseWriter, r *http.Request) {
		var req TradeRequest
		json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.trades = append(b.trades, req)
		attempt := len(b.trades)
		fn := b.tradeFn
		b.mu.Unlock()
		if fn == nil {
			writeSuccess(w, TradeResult{Order: 1001, Deal: 2001, Volume: req.Volume, Price: 2400.5, Retcode: RetcodeDone})
			return
		}
		payload, status, success := fn(attempt, req)
		write(w, payload, status, success)
	})
	b.mux.HandleFunc("/close", func(w http.ResponseWriter, r *http.Request) {
		var req CloseRequest
		json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		fn := b.closeFn
		b.mu.Unlock()
		if fn == nil {
			writeSuccess(w, CloseResult{Deal: 3001, Price: 2399.5, Retcode: RetcodeDone})
			return
		}
		payload, status, success := fn(req)
		write(w, payload, status, success)
	})
	return b
}

func write(w http.ResponseWriter, payload interface{}, status int, success bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if success {
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": payload})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": payload})
}

func writeSuccess(w http.ResponseWriter, payload interface{}) {
	write(w, payload, http.StatusOK, true)
}

func newTestClient(t *testing.T, b *bridgeStub, mutate func(*Config)) *Client {
	t.Helper()

	srv := httptest.NewServer(b.mux)
	t.Cleanup(srv.Close)

	cfg := Config{
		BaseURL: srv.URL,
		Now:     func() time.Time { return tradingClock },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewClient(cfg)
}

func TestConnectSetsState(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, newBridgeStub(), nil)
	assert.Equal(t, StateDisconnected, c.State())
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateConnected, c.State())
}

func TestNormalizeVolume(t *testing.T) {
	t.Parallel()

	info := &SymbolInfo{VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01}
	assert.InDelta(t, 0.5, NormalizeVolume(0.503, info), 1e-9)
	assert.InDelta(t, 0.01, NormalizeVolume(0.001, info), 1e-9)
	assert.InDelta(t, 100.0, NormalizeVolume(150, info), 1e-9)
	// Zero step leaves the volume alone apart from clamping
	assert.InDelta(t, 0.503, NormalizeVolume(0.503, &SymbolInfo{VolumeMax: 100}), 1e-9)
}

func TestPlaceSuccess(t *testing.T) {
	t.Parallel()

	b := newBridgeStub()
	c := newTestClient(t, b, nil)

	result, err := c.Place(context.Background(), TradeRequest{Symbol: "XAUUSD.r", Volume: 1, Type: types.SideBuy})
	require.NoError(t, err)
	assert.Equal(t, int64(1001), result.Order)
	assert.Equal(t, 2400.5, result.Price)

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.trades, 1)
	assert.Equal(t, baseDeviation, b.trades[0].Deviation)
}

func TestPlaceRetriesRequoteWithWiderDeviation(t *testing.T) {
	t.Parallel()

	b := newBridgeStub()
	b.tradeFn = func(attempt int, req TradeRequest) (interface{}, int, bool) {
		if attempt == 1 {
			return map[string]interface{}{"code": RetcodePricesChanged, "message": "Prices changed"},
				http.StatusBadRequest, false
		}
		return TradeResult{Order: 1002, Volume: req.Volume, Price: 2401, Retcode: RetcodeDone},
			http.StatusOK, true
	}
	c := newTestClient(t, b, nil)

	result, err := c.Place(context.Background(), TradeRequest{Symbol: "XAUUSD.r", Volume: 1, Type: types.SideBuy})
	require.NoError(t, err)
	assert.Equal(t, int64(1002), result.Order)

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.trades, 2)
	assert.Equal(t, baseDeviation, b.trades[0].Deviation)
	assert.Equal(t, baseDeviation+deviationStep, b.trades[1].Deviation)
}

func TestPlaceDoesNotRetryInsufficientFunds(t *testing.T) {
	t.Parallel()

	b := newBridgeStub()
	b.tradeFn = func(attempt int, req TradeRequest) (interface{}, int, bool) {
		return map[string]interface{}{"code": RetcodeInsufficientFunds, "message": "Insufficient funds"},
			http.StatusBadRequest, false
	}
	c := newTestClient(t, b, nil)

	_, err := c.Place(context.Background(), TradeRequest{Symbol: "XAUUSD.r", Volume: 1, Type: types.SideBuy})
	require.Error(t, err)
	assert.Equal(t, types.KindBridgeRejected, types.KindOf(err))

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Len(t, b.trades, 1)
}

func TestPlaceGatedWhenSymbolNotTradable(t *testing.T) {
	t.Parallel()

	b := newBridgeStub()
	b.info.TradeMode = 0
	c := newTestClient(t, b, nil)

	_, err := c.Place(context.Background(), TradeRequest{Symbol: "XAUUSD.r", Volume: 1, Type: types.SideBuy})
	require.Error(t, err)
	assert.Equal(t, types.KindMarketClosed, types.KindOf(err))
	assert.Empty(t, b.trades)
}

func TestPlaceGatedOnWeekend(t *testing.T) {
	t.Parallel()

	b := newBridgeStub()
	c := newTestClient(t, b, func(cfg *Config) {
		// a Saturday on the Gulf clock
		cfg.Now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, gulfTZ) }
	})

	_, err := c.Place(context.Background(), TradeRequest{Symbol: "XAUUSD.r", Volume: 1, Type: types.SideBuy})
	require.Error(t, err)
	assert.Equal(t, types.KindMarketClosed, types.KindOf(err))
}

func TestPlaceMarketClosedRetcode(t *testing.T) {
	t.Parallel()

	b := newBridgeStub()
	b.tradeFn = func(attempt int, req TradeRequest) (interface{}, int, bool) {
		return "Trade failed: Market closed (10018)", http.StatusBadRequest, false
	}
	c := newTestClient(t, b, nil)

	_, err := c.Place(context.Background(), TradeRequest{Symbol: "XAUUSD.r", Volume: 1, Type: types.SideBuy})
	require.Error(t, err)
	assert.Equal(t, types.KindMarketClosed, types.KindOf(err))
}

func TestClosePositionGatedOnWeekend(t *testing.T) {
	t.Parallel()

	b := newBridgeStub()
	c := newTestClient(t, b, func(cfg *Config) {
		// a Saturday on the Gulf clock
		cfg.Now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, gulfTZ) }
	})

	_, err := c.ClosePosition(context.Background(), CloseRequest{Ticket: "1001", Symbol: "XAUUSD.r", Side: types.SideBuy})
	require.Error(t, err)
	assert.Equal(t, types.KindMarketClosed, types.KindOf(err))
}

func TestClosePositionGatedWhenSymbolNotTradable(t *testing.T) {
	t.Parallel()

	b := newBridgeStub()
	b.info.TradeMode = 0
	c := newTestClient(t, b, nil)

	_, err := c.ClosePosition(context.Background(), CloseRequest{Ticket: "1001", Symbol: "XAUUSD.r", Side: types.SideBuy})
	require.Error(t, err)
	assert.Equal(t, types.KindMarketClosed, types.KindOf(err))
}

func TestClosePositionSuccess(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, newBridgeStub(), nil)
	result, err := c.ClosePosition(context.Background(), CloseRequest{Ticket: "1001", Symbol: "XAUUSD.r", Side: types.SideBuy})
	require.NoError(t, err)
	assert.False(t, result.LikelyClosed)
	assert.Equal(t, 2399.5, result.Price)
}

func TestClosePositionFallsBackWhenPositionLost(t *testing.T) {
	t.Parallel()

	b := newBridgeStub()
	b.closeFn = func(req CloseRequest) (interface{}, int, bool) {
		return "Position not found", http.StatusBadRequest, false
	}
	c := newTestClient(t, b, nil)

	// BUY settles against the bid
	result, err := c.ClosePosition(context.Background(), CloseRequest{Ticket: "9999", Symbol: "XAUUSD.r", Side: types.SideBuy})
	require.NoError(t, err)
	assert.True(t, result.LikelyClosed)
	assert.Equal(t, 2399.5, result.Price)

	// SELL settles against the ask
	result, err = c.ClosePosition(context.Background(), CloseRequest{Ticket: "9999", Symbol: "XAUUSD.r", Side: types.SideSell})
	require.NoError(t, err)
	assert.True(t, result.LikelyClosed)
	assert.Equal(t, 2400.5, result.Price)
}

func TestClosePositionFallsBackOnFlat400(t *testing.T) {
	t.Parallel()

	b := newBridgeStub()
	b.closeFn = func(req CloseRequest) (interface{}, int, bool) {
		return "close rejected", http.StatusBadRequest, false
	}
	c := newTestClient(t, b, nil)

	result, err := c.ClosePosition(context.Background(), CloseRequest{Ticket: "1", Symbol: "XAUUSD.r", Side: types.SideBuy})
	require.NoError(t, err)
	assert.True(t, result.LikelyClosed)
}

func TestClosePositionSurfacesOtherRejections(t *testing.T) {
	t.Parallel()

	b := newBridgeStub()
	b.closeFn = func(req CloseRequest) (interface{}, int, bool) {
		return map[string]interface{}{"code": RetcodeAutoTradingOff, "message": "AutoTrading disabled"},
			http.StatusInternalServerError, false
	}
	c := newTestClient(t, b, nil)

	_, err := c.ClosePosition(context.Background(), CloseRequest{Ticket: "1", Symbol: "XAUUSD.r", Side: types.SideBuy})
	require.Error(t, err)
	assert.Equal(t, types.KindBridgeRejected, types.KindOf(err))
}

func TestQuoteCacheTTL(t *testing.T) {
	t.Parallel()

	clock := tradingClock
	var clockMu sync.Mutex
	now := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return clock
	}

	b := newBridgeStub()
	c := newTestClient(t, b, func(cfg *Config) {
		cfg.CacheTTL = 15 * time.Second
		cfg.Now = now
	})

	_, err := c.Quote(context.Background(), "XAUUSD.r", false)
	require.NoError(t, err)
	_, err = c.Quote(context.Background(), "XAUUSD.r", false)
	require.NoError(t, err)

	b.mu.Lock()
	assert.Equal(t, 1, b.quoteHit, "second read within TTL must hit the cache")
	b.mu.Unlock()

	clockMu.Lock()
	clock = clock.Add(16 * time.Second)
	clockMu.Unlock()

	_, err = c.Quote(context.Background(), "XAUUSD.r", false)
	require.NoError(t, err)
	b.mu.Lock()
	assert.Equal(t, 2, b.quoteHit, "expired entry must refetch")
	b.mu.Unlock()

	// force bypasses a fresh cache entry
	_, err = c.Quote(context.Background(), "XAUUSD.r", true)
	require.NoError(t, err)
	b.mu.Lock()
	assert.Equal(t, 3, b.quoteHit)
	b.mu.Unlock()
}

func TestResolveSymbolExact(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, newBridgeStub(), nil)
	name, err := c.ResolveSymbol(context.Background(), "XAUUSD.r")
	require.NoError(t, err)
	assert.Equal(t, "XAUUSD.r", name)
}

func TestResolveSymbolFallsBackToGoldAlternate(t *testing.T) {
	t.Parallel()

	b := newBridgeStub()
	// Requested name is not tradable; the gold alternate from /symbols is
	b.mux = http.NewServeMux()
	b.mux.HandleFunc("/symbol_info/GOLD", func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, SymbolInfo{Name: "GOLD", TradeMode: 4, VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01})
	})
	b.mux.HandleFunc("/symbol_info/", func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, SymbolInfo{Name: "XAUUSD.x", TradeMode: 0})
	})
	b.mux.HandleFunc("/symbols", func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, []string{"EURUSD", "GOLD"})
	})
	c := newTestClient(t, b, nil)

	name, err := c.ResolveSymbol(context.Background(), "XAUUSD.x")
	require.NoError(t, err)
	assert.Equal(t, "GOLD", name)
}

func TestBridgeUnavailable(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	_, err := c.Symbols(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.KindBridgeUnavailable, types.KindOf(err))
}

func TestParseBridgeErrorShapes(t *testing.T) {
	t.Parallel()

	// object shape
	de := parseBridgeError(json.RawMessage(`{"code": 10013, "message": "Requote"}`), http.StatusBadRequest)
	assert.Equal(t, RetcodeRequote, de.Retcode)
	assert.Equal(t, types.KindBridgeRejected, de.Kind)

	// string shape with embedded retcode
	de = parseBridgeError(json.RawMessage(`"Trade failed: retcode 10019"`), http.StatusBadRequest)
	assert.Equal(t, RetcodeInsufficientFunds, de.Retcode)

	// string shape matched by message text
	de = parseBridgeError(json.RawMessage(`"Order rejected: Invalid SL/TP"`), http.StatusBadRequest)
	assert.Equal(t, RetcodeInvalidStops, de.Retcode)

	// market closed maps to its own kind
	de = parseBridgeError(json.RawMessage(`"Market closed"`), http.StatusBadRequest)
	assert.Equal(t, types.KindMarketClosed, de.Kind)
	assert.Equal(t, RetcodeMarketClosed, de.Retcode)

	// bare 400 with no retcode carries the HTTP status
	de = parseBridgeError(json.RawMessage(`"something happened"`), http.StatusBadRequest)
	assert.Equal(t, http.StatusBadRequest, de.Retcode)
}
