package trading

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aurify/goldtrade/internal/mt5"
	"github.com/aurify/goldtrade/internal/types"
)

const (
	testAdmin   = "ADM_test"
	testAccount = "ACC001"
)

// stubGateway is a canned-response execution gateway, safe for concurrent
// callers.
type stubGateway struct {
	placeErr     error
	fillPrice    float64
	fillVolume   float64 // 0 echoes the requested volume
	closeErr     error
	closePrice   float64
	likelyClosed bool

	mu     sync.Mutex
	placed []mt5.TradeRequest
	closed []mt5.CloseRequest
}

func (g *stubGateway) ResolveSymbol(ctx context.Context, symbol string) (string, error) {
	return symbol, nil
}

func (g *stubGateway) Place(ctx context.Context, req mt5.TradeRequest) (*mt5.TradeResult, error) {
	g.mu.Lock()
	g.placed = append(g.placed, req)
	n := len(g.placed)
	g.mu.Unlock()
	if g.placeErr != nil {
		return nil, g.placeErr
	}
	volume := g.fillVolume
	if volume == 0 {
		volume = req.Volume
	}
	return &mt5.TradeResult{
		Order:   int64(5000 + n),
		Deal:    int64(6000 + n),
		Volume:  volume,
		Price:   g.fillPrice,
		Retcode: mt5.RetcodeDone,
	}, nil
}

func (g *stubGateway) ClosePosition(ctx context.Context, req mt5.CloseRequest) (*mt5.CloseResult, error) {
	g.mu.Lock()
	g.closed = append(g.closed, req)
	n := len(g.closed)
	g.mu.Unlock()
	if g.closeErr != nil {
		return nil, g.closeErr
	}
	return &mt5.CloseResult{
		Deal:         int64(7000 + n),
		Price:        g.closePrice,
		Retcode:      mt5.RetcodeDone,
		LikelyClosed: g.likelyClosed,
	}, nil
}

func (g *stubGateway) placeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.placed)
}

func (g *stubGateway) Quote(ctx context.Context, symbol string, force bool) (*mt5.Quote, error) {
	return &mt5.Quote{Symbol: symbol, Bid: g.closePrice, Ask: g.fillPrice}, nil
}

func newTestService(t *testing.T, gw *stubGateway) (*Service, *gorm.DB) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "trading.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// sqlite has a single writer. One pooled connection makes racing
	// transactions queue instead of erroring with a busy lock.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&types.Account{}, &types.Order{}, &types.LPPosition{},
		&types.LPProfit{}, &types.Ledger{},
	))

	require.NoError(t, db.Create(&types.Account{
		AccountID:      testAccount,
		AccountHead:    "Test Client",
		AdminID:        testAdmin,
		AmountFC:       10_000_000,
		ReservedAmount: 10_000_000,
		MarginPercent:  100,
		AskSpread:      0.5,
		BidSpread:      0.5,
	}).Error)

	return NewService(db, gw, "XAUUSD.r"), db
}

func buyIntent(orderNo string) OrderIntent {
	return OrderIntent{
		OrderNo:        orderNo,
		Type:           types.SideBuy,
		Symbol:         "TTBAR",
		Volume:         1,
		Price:          2400,
		RequiredMargin: 4_000_000,
		OpeningDate:    time.Now(),
	}
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func fetchAccount(t *testing.T, db *gorm.DB) types.Account {
	t.Helper()
	var acct types.Account
	require.NoError(t, db.Where("account_id = ?", testAccount).First(&acct).Error)
	return acct
}

func TestOpenTradeBuy(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400}
	svc, db := newTestService(t, gw)

	result, err := svc.OpenTrade(context.Background(), testAdmin, testAccount, buyIntent("ORD-1"))
	require.NoError(t, err)

	order := result.ClientOrder
	assert.Equal(t, types.OrderStatusOpen, order.OrderStatus)
	assert.Equal(t, 2400.0, order.Price)
	assert.Equal(t, 3865399.36, order.OpeningPrice)
	assert.NotEmpty(t, order.Ticket)

	assert.Equal(t, types.LPStatusOpen, result.LPPosition.Status)
	assert.Equal(t, "ORD-1", result.LPPosition.ClientOrder)
	assert.Equal(t, 3864594.24, result.LPPosition.EntryPrice)

	assert.Equal(t, types.LPStatusOpen, result.LPProfit.Status)
	assert.Equal(t, 805.12, result.LPProfit.Value)

	assert.Equal(t, 6_000_000.0, result.Balances.Cash)
	assert.Equal(t, 117.0, result.Balances.Gold)

	assert.Equal(t, 2400.0, result.PriceDetails.MT5)
	assert.Equal(t, 2400.5, result.PriceDetails.Client)
	assert.Equal(t, 0.5, result.PriceDetails.SpreadApplied)

	// One row per record type and the four journal rows
	assert.EqualValues(t, 1, countRows(t, db, &types.Order{}))
	assert.EqualValues(t, 1, countRows(t, db, &types.LPPosition{}))
	assert.EqualValues(t, 1, countRows(t, db, &types.LPProfit{}))
	assert.EqualValues(t, 4, countRows(t, db, &types.Ledger{}))

	acct := fetchAccount(t, db)
	assert.Equal(t, 6_000_000.0, acct.ReservedAmount)
	assert.Equal(t, 117.0, acct.MetalWeight)
}

func TestOpenTradeSellMovesMetalOut(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400}
	svc, db := newTestService(t, gw)

	intent := buyIntent("ORD-2")
	intent.Type = types.SideSell

	result, err := svc.OpenTrade(context.Background(), testAdmin, testAccount, intent)
	require.NoError(t, err)

	// SELL is quoted off the bid spread
	assert.Equal(t, 2399.5, result.PriceDetails.Client)
	assert.Equal(t, -117.0, result.Balances.Gold)

	acct := fetchAccount(t, db)
	assert.Equal(t, -117.0, acct.MetalWeight)
}

func TestOpenTradeRejectedFillLeavesNoTrace(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{
		placeErr: &types.DomainError{
			Kind:    types.KindBridgeRejected,
			Message: "Insufficient funds",
			Retcode: mt5.RetcodeInsufficientFunds,
		},
	}
	svc, db := newTestService(t, gw)

	_, err := svc.OpenTrade(context.Background(), testAdmin, testAccount, buyIntent("ORD-3"))
	require.Error(t, err)
	assert.Equal(t, types.KindBridgeRejected, types.KindOf(err))

	// Everything rolls back: no order, no LP records, no journal rows,
	// untouched balances.
	assert.EqualValues(t, 0, countRows(t, db, &types.Order{}))
	assert.EqualValues(t, 0, countRows(t, db, &types.LPPosition{}))
	assert.EqualValues(t, 0, countRows(t, db, &types.LPProfit{}))
	assert.EqualValues(t, 0, countRows(t, db, &types.Ledger{}))

	acct := fetchAccount(t, db)
	assert.Equal(t, 10_000_000.0, acct.ReservedAmount)
	assert.Equal(t, 0.0, acct.MetalWeight)
}

func TestOpenTradeFrozenAccount(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400}
	svc, db := newTestService(t, gw)
	require.NoError(t, db.Model(&types.Account{}).
		Where("account_id = ?", testAccount).
		Update("is_freeze", true).Error)

	_, err := svc.OpenTrade(context.Background(), testAdmin, testAccount, buyIntent("ORD-4"))
	require.Error(t, err)
	assert.Equal(t, types.KindAccountFrozen, types.KindOf(err))
	assert.Empty(t, gw.placed, "frozen account must never reach the bridge")
	assert.EqualValues(t, 0, countRows(t, db, &types.Order{}))
}

func TestOpenTradeBalanceCheckedBeforeFreeze(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400}
	svc, db := newTestService(t, gw)
	require.NoError(t, db.Model(&types.Account{}).
		Where("account_id = ?", testAccount).
		Update("is_freeze", true).Error)

	// When the margin check and the freeze both fail, the balance outcome
	// wins.
	intent := buyIntent("ORD-4B")
	intent.RequiredMargin = 10_000_000.01

	_, err := svc.OpenTrade(context.Background(), testAdmin, testAccount, intent)
	require.Error(t, err)
	assert.Equal(t, types.KindInsufficientBalance, types.KindOf(err))
}

func TestOpenTradeInsufficientBalance(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400}
	svc, db := newTestService(t, gw)

	intent := buyIntent("ORD-5")
	intent.RequiredMargin = 10_000_000.01

	_, err := svc.OpenTrade(context.Background(), testAdmin, testAccount, intent)
	require.Error(t, err)
	assert.Equal(t, types.KindInsufficientBalance, types.KindOf(err))
	assert.Empty(t, gw.placed)
	assert.EqualValues(t, 0, countRows(t, db, &types.Order{}))
}

func TestOpenTradeDuplicateOrderNo(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400}
	svc, db := newTestService(t, gw)

	_, err := svc.OpenTrade(context.Background(), testAdmin, testAccount, buyIntent("ORD-6"))
	require.NoError(t, err)

	_, err = svc.OpenTrade(context.Background(), testAdmin, testAccount, buyIntent("ORD-6"))
	require.Error(t, err)
	assert.Equal(t, types.KindDuplicateOrderNo, types.KindOf(err))

	// Only the first open committed
	assert.EqualValues(t, 1, countRows(t, db, &types.Order{}))
	assert.EqualValues(t, 4, countRows(t, db, &types.Ledger{}))
}

func TestOpenTradeDuplicateOrderNoConcurrent(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400}
	svc, db := newTestService(t, gw)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.OpenTrade(context.Background(), testAdmin, testAccount, buyIntent("ORD-RACE"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var failures []error
	for err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	require.Len(t, failures, 1, "exactly one of the racing opens must lose")
	assert.Equal(t, types.KindDuplicateOrderNo, types.KindOf(failures[0]))
	assert.Equal(t, 1, gw.placeCount(), "the loser must fail before reaching the bridge")

	// The loser leaves no trace: one trade, one LP pair, one ledger set.
	assert.EqualValues(t, 1, countRows(t, db, &types.Order{}))
	assert.EqualValues(t, 1, countRows(t, db, &types.LPPosition{}))
	assert.EqualValues(t, 1, countRows(t, db, &types.LPProfit{}))
	assert.EqualValues(t, 4, countRows(t, db, &types.Ledger{}))

	acct := fetchAccount(t, db)
	assert.InDelta(t, 6_000_000, acct.ReservedAmount, 0.001)
}

func TestOpenTradeValidation(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400}
	svc, _ := newTestService(t, gw)

	intent := buyIntent("ORD-7")
	intent.Volume = 0
	intent.Price = 0
	intent.OpeningPrice = 0

	_, err := svc.OpenTrade(context.Background(), testAdmin, testAccount, intent)
	require.Error(t, err)
	assert.Equal(t, types.KindValidationFailed, types.KindOf(err))
	assert.Contains(t, err.Error(), "volume must be positive")
	assert.Contains(t, err.Error(), "price must be positive")
	assert.Empty(t, gw.placed)
}

func TestOpenTradeUnknownSymbol(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400}
	svc, _ := newTestService(t, gw)

	intent := buyIntent("ORD-8")
	intent.Symbol = "SILVER"

	_, err := svc.OpenTrade(context.Background(), testAdmin, testAccount, intent)
	require.Error(t, err)
	assert.Equal(t, types.KindValidationFailed, types.KindOf(err))
}

func TestOpenTradeExternalTicketSkipsBridge(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400}
	svc, _ := newTestService(t, gw)

	intent := buyIntent("ORD-9")
	intent.Ticket = "777001"

	result, err := svc.OpenTrade(context.Background(), testAdmin, testAccount, intent)
	require.NoError(t, err)
	assert.Empty(t, gw.placed, "reconciled fills must not re-execute")
	assert.Equal(t, "777001", result.ClientOrder.Ticket)
	assert.Nil(t, result.MT5Trade)
	// Prices derive from the intent's base price
	assert.Equal(t, 2400.0, result.ClientOrder.Price)
}

func TestCloseTradeBuyAtLoss(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400, closePrice: 2399.5}
	svc, db := newTestService(t, gw)

	_, err := svc.OpenTrade(context.Background(), testAdmin, testAccount, buyIntent("ORD-10"))
	require.NoError(t, err)

	outcome, err := svc.CloseTrade(context.Background(), testAdmin, "ORD-10",
		CloseRequest{OrderStatus: types.OrderStatusClosed})
	require.NoError(t, err)

	assert.True(t, outcome.MT5Synchronized)
	assert.Equal(t, types.OrderStatusClosed, outcome.Order.OrderStatus)
	require.NotNil(t, outcome.Order.ClosingDate)

	// BUY closes against the bid spread: 2399.5 - 0.5 = 2399 USD/oz
	assert.Equal(t, 2399.5, outcome.ClosingPrices.MT5)
	assert.Equal(t, 2399.0, outcome.ClosingPrices.Client)

	// 2399 x 13.7628 x 117 = 3,862,983.9924 against an opening value of
	// 3,865,399.36
	assert.Equal(t, 3862983.99, outcome.Order.ClosingPrice)
	assert.Equal(t, -2415.37, outcome.Profit.Client)

	// Desk earned both spread halves
	assert.Equal(t, 1610.24, outcome.Profit.LP)

	// Margin released net of the loss; metal returned
	assert.Equal(t, 9_997_584.63, outcome.Balances.Cash)
	assert.Equal(t, 0.0, outcome.Balances.Gold)

	acct := fetchAccount(t, db)
	assert.Equal(t, 9_997_584.63, acct.ReservedAmount)
	assert.Equal(t, 9_997_584.63, acct.AmountFC)
	assert.Equal(t, 0.0, acct.MetalWeight)

	// LP mirror closed at the raw MT5 value
	var lp types.LPPosition
	require.NoError(t, db.Where("position_id = ?", "ORD-10").First(&lp).Error)
	assert.Equal(t, types.LPStatusClosed, lp.Status)
	assert.Equal(t, 3863789.12, lp.ClosingPrice)
	assert.Equal(t, -805.12, lp.Profit)

	var lpp types.LPProfit
	require.NoError(t, db.Where("order_no = ?", "ORD-10").First(&lpp).Error)
	assert.Equal(t, types.LPStatusClosed, lpp.Status)
	assert.Equal(t, 1610.24, lpp.Value)

	// Four open rows plus four close rows
	assert.EqualValues(t, 8, countRows(t, db, &types.Ledger{}))
}

func TestCloseTradeSellAtGain(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400, closePrice: 2390}
	svc, db := newTestService(t, gw)

	intent := buyIntent("ORD-11")
	intent.Type = types.SideSell
	_, err := svc.OpenTrade(context.Background(), testAdmin, testAccount, intent)
	require.NoError(t, err)

	outcome, err := svc.CloseTrade(context.Background(), testAdmin, "ORD-11",
		CloseRequest{OrderStatus: types.OrderStatusClosed})
	require.NoError(t, err)

	// SELL closes against the ask spread: 2390 + 0.5
	assert.Equal(t, 2390.5, outcome.ClosingPrices.Client)
	assert.Positive(t, outcome.Profit.Client)

	acct := fetchAccount(t, db)
	assert.Greater(t, acct.AmountFC, 10_000_000.0)
	assert.Equal(t, 0.0, acct.MetalWeight)
}

func TestCloseTradeAlreadyClosed(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400, closePrice: 2400}
	svc, _ := newTestService(t, gw)

	_, err := svc.OpenTrade(context.Background(), testAdmin, testAccount, buyIntent("ORD-12"))
	require.NoError(t, err)
	_, err = svc.CloseTrade(context.Background(), testAdmin, "ORD-12",
		CloseRequest{OrderStatus: types.OrderStatusClosed})
	require.NoError(t, err)

	_, err = svc.CloseTrade(context.Background(), testAdmin, "ORD-12",
		CloseRequest{OrderStatus: types.OrderStatusClosed})
	require.Error(t, err)
	assert.Equal(t, types.KindAlreadyClosed, types.KindOf(err))
}

func TestCloseTradeForceCloseOverridesGuard(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400, closePrice: 2400}
	svc, _ := newTestService(t, gw)

	_, err := svc.OpenTrade(context.Background(), testAdmin, testAccount, buyIntent("ORD-13"))
	require.NoError(t, err)
	_, err = svc.CloseTrade(context.Background(), testAdmin, "ORD-13",
		CloseRequest{OrderStatus: types.OrderStatusClosed})
	require.NoError(t, err)

	_, err = svc.CloseTrade(context.Background(), testAdmin, "ORD-13",
		CloseRequest{OrderStatus: types.OrderStatusClosed, ForceClose: true})
	require.NoError(t, err)
}

func TestCloseTradeUnknownOrder(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400, closePrice: 2400}
	svc, _ := newTestService(t, gw)

	_, err := svc.CloseTrade(context.Background(), testAdmin, "NO-SUCH-ORDER",
		CloseRequest{OrderStatus: types.OrderStatusClosed})
	require.Error(t, err)
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestCloseTradeRejectsWrongStatus(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400, closePrice: 2400}
	svc, _ := newTestService(t, gw)

	_, err := svc.CloseTrade(context.Background(), testAdmin, "ORD-X",
		CloseRequest{OrderStatus: types.OrderStatusCancelled})
	require.Error(t, err)
	assert.Equal(t, types.KindValidationFailed, types.KindOf(err))
}

func TestCloseTradeFrozenAccountStillSettles(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400, closePrice: 2400}
	svc, db := newTestService(t, gw)

	_, err := svc.OpenTrade(context.Background(), testAdmin, testAccount, buyIntent("ORD-14"))
	require.NoError(t, err)

	// Freezing after the open must not trap the position
	require.NoError(t, db.Model(&types.Account{}).
		Where("account_id = ?", testAccount).
		Update("is_freeze", true).Error)

	_, err = svc.CloseTrade(context.Background(), testAdmin, "ORD-14",
		CloseRequest{OrderStatus: types.OrderStatusClosed})
	require.NoError(t, err)
}

func TestCloseTradeLostPositionSettlesAtQuote(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400, closePrice: 2398, likelyClosed: true}
	svc, _ := newTestService(t, gw)

	_, err := svc.OpenTrade(context.Background(), testAdmin, testAccount, buyIntent("ORD-15"))
	require.NoError(t, err)

	outcome, err := svc.CloseTrade(context.Background(), testAdmin, "ORD-15",
		CloseRequest{OrderStatus: types.OrderStatusClosed})
	require.NoError(t, err)

	assert.False(t, outcome.MT5Synchronized)
	assert.Equal(t, types.OrderStatusClosed, outcome.Order.OrderStatus)
	assert.Equal(t, 2398.0, outcome.ClosingPrices.MT5)
}

func TestCloseTradeCallerOverrides(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400, closePrice: 2400}
	svc, db := newTestService(t, gw)

	_, err := svc.OpenTrade(context.Background(), testAdmin, testAccount, buyIntent("ORD-16"))
	require.NoError(t, err)

	profit := 1234.56
	outcome, err := svc.CloseTrade(context.Background(), testAdmin, "ORD-16", CloseRequest{
		OrderStatus:  types.OrderStatusClosed,
		ClosingPrice: 2410,
		Profit:       &profit,
	})
	require.NoError(t, err)

	assert.Equal(t, 2410.0, outcome.ClosingPrices.MT5)
	assert.Equal(t, 1234.56, outcome.Profit.Client)

	acct := fetchAccount(t, db)
	assert.Equal(t, 10_001_234.56, acct.ReservedAmount)
	assert.Equal(t, 10_001_234.56, acct.AmountFC)
}

func TestDoubleEntryBalancesAcrossRoundTrip(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{fillPrice: 2400, closePrice: 2400}
	svc, db := newTestService(t, gw)

	_, err := svc.OpenTrade(context.Background(), testAdmin, testAccount, buyIntent("ORD-17"))
	require.NoError(t, err)
	outcome, err := svc.CloseTrade(context.Background(), testAdmin, "ORD-17",
		CloseRequest{OrderStatus: types.OrderStatusClosed})
	require.NoError(t, err)

	var rows []types.Ledger
	require.NoError(t, db.Where("reference_number = ?", "ORD-17").Order("id").Find(&rows).Error)
	require.Len(t, rows, 8)

	// The CASH transaction legs net to the round-trip P&L
	var cashNet float64
	for _, row := range rows {
		if row.EntryType != types.EntryTypeTransaction {
			continue
		}
		var details types.TransactionLedgerDetails
		require.NoError(t, json.Unmarshal([]byte(row.Details), &details))
		if details.Asset != types.AssetCash {
			continue
		}
		if row.EntryNature == types.NatureCredit {
			cashNet += row.Amount
		} else {
			cashNet -= row.Amount
		}
	}
	assert.InDelta(t, outcome.Profit.Client, cashNet, 0.01)

	// Every row carries a unique entry ID and the running reserved balance
	seen := make(map[string]bool)
	for _, row := range rows {
		assert.False(t, seen[row.EntryID])
		seen[row.EntryID] = true
	}
	last := rows[len(rows)-1]
	acct := fetchAccount(t, db)
	assert.Equal(t, acct.ReservedAmount, last.RunningBalance)
}
