// Package trading coordinates the open and close flows: it drives the MT5
// gateway and folds the client order, LP position, desk profit, ledger rows
// and account balances into a single database transaction, so every trade
// commits fully or not at all.
package trading

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/aurify/goldtrade/internal/accounts"
	"github.com/aurify/goldtrade/internal/ledger"
	"github.com/aurify/goldtrade/internal/mt5"
	"github.com/aurify/goldtrade/internal/pricing"
	"github.com/aurify/goldtrade/internal/types"
)

// Service is the trade coordinator.
type Service struct {
	db           *Database
	gorm         *gorm.DB
	gateway      Gateway
	bridgeSymbol string
}

// NewService creates a coordinator bound to a database handle, an execution
// gateway and the bridge symbol all products execute against.
func NewService(db *gorm.DB, gateway Gateway, bridgeSymbol string) *Service {
	return &Service{
		db:           NewDatabase(db),
		gorm:         db,
		gateway:      gateway,
		bridgeSymbol: bridgeSymbol,
	}
}

// OpenTrade executes a validated open intent end to end. The bridge call
// happens inside the transaction: a rejected fill rolls back the order and
// LP rows it would have confirmed, leaving no partial state behind.
func (s *Service) OpenTrade(ctx context.Context, adminID, userID string, intent OrderIntent) (*OpenResult, error) {
	logger := log.With().
		Str("component", "trading").
		Str("order_no", intent.OrderNo).
		Str("admin_id", adminID).
		Logger()

	if err := validateIntent(adminID, userID, intent); err != nil {
		return nil, err
	}
	product, ok := pricing.ProductByCode(intent.Symbol)
	if !ok {
		return nil, types.NewDomainError(types.KindValidationFailed, "unknown symbol %s", intent.Symbol)
	}

	var result *OpenResult
	err := s.gorm.Transaction(func(tx *gorm.DB) error {
		acct, err := accounts.GetAccountTx(tx, userID, adminID)
		if err != nil {
			return err
		}
		if acct.ReservedAmount < intent.RequiredMargin {
			return types.NewDomainError(types.KindInsufficientBalance,
				"required margin %.2f exceeds reserved balance %.2f", intent.RequiredMargin, acct.ReservedAmount)
		}
		if acct.IsFreeze {
			return types.NewDomainError(types.KindAccountFrozen, "account %s is frozen", acct.AccountID)
		}

		basePrice := intent.Price
		if intent.OpeningPrice > 0 {
			basePrice = intent.OpeningPrice
		}
		order := &types.Order{
			OrderNo:        intent.OrderNo,
			Type:           intent.Type,
			Symbol:         intent.Symbol,
			Volume:         intent.Volume,
			RequiredMargin: pricing.Round2(intent.RequiredMargin),
			Price:          basePrice,
			OpeningDate:    intent.OpeningDate,
			StopLoss:       intent.StopLoss,
			TakeProfit:     intent.TakeProfit,
			OrderStatus:    types.OrderStatusProcessing,
			UserID:         userID,
			AdminID:        adminID,
			Comment:        intent.Comment,
		}
		if err := CreateOrderTx(tx, order); err != nil {
			return err
		}

		lp := &types.LPPosition{
			PositionID:  intent.OrderNo,
			ClientOrder: intent.OrderNo,
			Type:        intent.Type,
			Symbol:      intent.Symbol,
			Volume:      intent.Volume,
			Status:      types.LPStatusOpen,
			AdminID:     adminID,
		}
		if err := tx.Create(lp).Error; err != nil {
			return fmt.Errorf("failed to insert LP position: %w", err)
		}

		lpp := &types.LPProfit{
			OrderNo:   intent.OrderNo,
			OrderType: intent.Type,
			Status:    types.LPStatusOpen,
			Volume:    intent.Volume,
			UserID:    userID,
			AdminID:   adminID,
			Datetime:  time.Now(),
		}
		if err := tx.Create(lpp).Error; err != nil {
			return fmt.Errorf("failed to insert LP profit: %w", err)
		}

		var trade *mt5.TradeResult
		if intent.Ticket == "" {
			symbol, err := s.gateway.ResolveSymbol(ctx, s.bridgeSymbol)
			if err != nil {
				order.OrderStatus = types.OrderStatusFailed
				order.NotificationError = err.Error()
				return err
			}
			trade, err = s.gateway.Place(ctx, mt5.TradeRequest{
				Symbol:  symbol,
				Volume:  intent.Volume,
				Type:    intent.Type,
				Comment: intent.OrderNo,
			})
			if err != nil {
				order.OrderStatus = types.OrderStatusFailed
				order.NotificationError = err.Error()
				logger.Warn().Err(err).Msg("bridge rejected open, rolling back")
				return err
			}
			order.Ticket = strconv.FormatInt(trade.Order, 10)
		} else {
			order.Ticket = intent.Ticket
		}

		fillPrice := basePrice
		fillVolume := intent.Volume
		if trade != nil {
			if trade.Price > 0 {
				fillPrice = trade.Price
			}
			if trade.Volume > 0 {
				fillVolume = trade.Volume
			}
		}
		grams := pricing.Grams(product, fillVolume)

		clientPrice := pricing.ClientOpenPrice(intent.Type, fillPrice, acct.AskSpread, acct.BidSpread)
		openValue := pricing.GoldValueAED(clientPrice, product, fillVolume)
		lpValue := pricing.GoldValueAED(fillPrice, product, fillVolume)

		order.Price = pricing.Round2(fillPrice)
		order.OpeningPrice = pricing.Round2(openValue)
		order.Volume = fillVolume
		order.OrderStatus = types.OrderStatusOpen
		order.IsTradeSafe = intent.StopLoss > 0 || intent.TakeProfit > 0
		order.LPPositionID = lp.PositionID
		if err := tx.Save(order).Error; err != nil {
			return fmt.Errorf("failed to confirm order: %w", err)
		}

		lp.Volume = fillVolume
		lp.EntryPrice = pricing.Round2(lpValue)
		lp.CurrentPrice = lp.EntryPrice
		if err := tx.Save(lp).Error; err != nil {
			return fmt.Errorf("failed to confirm LP position: %w", err)
		}

		lpp.Volume = fillVolume
		lpp.Value = pricing.Round2(pricing.LPProfitOpen(intent.Type, product, fillVolume, acct.AskSpread, acct.BidSpread))
		if err := tx.Save(lpp).Error; err != nil {
			return fmt.Errorf("failed to confirm LP profit: %w", err)
		}

		w := ledger.NewWriter(tx)
		if err := w.DebitReserved(acct, order.RequiredMargin); err != nil {
			return err
		}
		metalDelta := grams
		if intent.Type == types.SideSell {
			metalDelta = -grams
		}
		if err := w.AdjustMetal(acct, metalDelta); err != nil {
			return err
		}
		if err := w.RecordOpen(ledger.OpenParams{
			Account:   acct,
			Order:     order,
			LPValue:   lp.EntryPrice,
			GoldValue: order.OpeningPrice,
			Grams:     grams,
			FillPrice: fillPrice,
		}); err != nil {
			return err
		}

		result = &OpenResult{
			ClientOrder: order,
			LPPosition:  lp,
			LPProfit:    lpp,
			MT5Trade:    trade,
			Balances: types.Balances{
				Cash: acct.ReservedAmount,
				Gold: acct.MetalWeight,
			},
			PriceDetails: types.PriceDetails{
				MT5:           fillPrice,
				Client:        clientPrice,
				LP:            lp.EntryPrice,
				SpreadApplied: pricing.SpreadFor(intent.Type, acct.AskSpread, acct.BidSpread),
			},
		}
		return nil
	})
	if err != nil {
		return nil, wrapTxError(err)
	}

	logger.Info().
		Str("ticket", result.ClientOrder.Ticket).
		Float64("fill_price", result.PriceDetails.MT5).
		Float64("margin", result.ClientOrder.RequiredMargin).
		Msg("trade opened")
	return result, nil
}

// CloseTrade settles an open order: closes the bridge position (or falls
// back to a quote when the bridge has already lost it), computes the client
// and desk P&L and releases the margin, all in one transaction.
func (s *Service) CloseTrade(ctx context.Context, adminID, orderNo string, req CloseRequest) (*CloseOutcome, error) {
	logger := log.With().
		Str("component", "trading").
		Str("order_no", orderNo).
		Str("admin_id", adminID).
		Logger()

	if err := validateCloseRequest(req); err != nil {
		return nil, err
	}

	var outcome *CloseOutcome
	err := s.gorm.Transaction(func(tx *gorm.DB) error {
		order, err := GetOrderTx(tx, orderNo, adminID)
		if err != nil {
			return err
		}
		if order.OrderStatus == types.OrderStatusClosed && !req.ForceClose {
			return types.NewDomainError(types.KindAlreadyClosed, "order %s is already closed", orderNo)
		}
		product, ok := pricing.ProductByCode(order.Symbol)
		if !ok {
			return types.NewDomainError(types.KindValidationFailed, "unknown symbol %s", order.Symbol)
		}
		acct, err := accounts.GetAccountTx(tx, order.UserID, adminID)
		if err != nil {
			return err
		}

		closeRes, err := s.gateway.ClosePosition(ctx, mt5.CloseRequest{
			Ticket: order.Ticket,
			Symbol: s.bridgeSymbol,
			Side:   order.Type,
		})
		if err != nil {
			return err
		}
		mt5Synchronized := !closeRes.LikelyClosed
		if closeRes.LikelyClosed {
			logger.Warn().Str("ticket", order.Ticket).
				Msg("bridge lost position, settling against current quote")
		}

		mt5Close := closeRes.Price
		if req.ClosingPrice > 0 {
			mt5Close = req.ClosingPrice
		}
		clientClose := pricing.ClientClosePrice(order.Type, mt5Close, acct.AskSpread, acct.BidSpread)
		closeValue := pricing.GoldValueAED(clientClose, product, order.Volume)
		grams := pricing.Grams(product, order.Volume)

		profit := pricing.Round2(pricing.ClientProfit(order.Type, order.OpeningPrice, closeValue))
		if req.Profit != nil {
			profit = pricing.Round2(*req.Profit)
		}

		lp, err := GetLPPositionTx(tx, order.LPPositionID)
		if err != nil {
			return err
		}
		lpClose := pricing.Round2(pricing.GoldValueAED(mt5Close, product, order.Volume))
		lp.ClosingPrice = lpClose
		lp.CurrentPrice = lpClose
		lp.Profit = pricing.Round2(pricing.ClientProfit(lp.Type, lp.EntryPrice, lpClose))
		lp.Status = types.LPStatusClosed
		if err := tx.Save(lp).Error; err != nil {
			return fmt.Errorf("failed to close LP position: %w", err)
		}

		lpp, err := GetLPProfitTx(tx, orderNo)
		if err != nil {
			return err
		}
		lpp.Value = pricing.Round2(lpp.Value +
			pricing.LPProfitClose(order.Type, product, order.Volume, acct.AskSpread, acct.BidSpread))
		lpp.Status = types.LPStatusClosed
		if err := tx.Save(lpp).Error; err != nil {
			return fmt.Errorf("failed to close LP profit: %w", err)
		}

		w := ledger.NewWriter(tx)
		if err := w.CreditReserved(acct, order.RequiredMargin+profit); err != nil {
			return err
		}
		if err := w.AdjustEquity(acct, profit); err != nil {
			return err
		}
		metalDelta := -grams
		if order.Type == types.SideSell {
			metalDelta = grams
		}
		if err := w.AdjustMetal(acct, metalDelta); err != nil {
			return err
		}

		now := time.Now()
		order.OrderStatus = types.OrderStatusClosed
		order.ClosingPrice = pricing.Round2(closeValue)
		order.ClosingDate = &now
		order.Profit = profit
		if err := tx.Save(order).Error; err != nil {
			return fmt.Errorf("failed to close order: %w", err)
		}

		if err := w.RecordClose(ledger.CloseParams{
			Account: acct,
			Order:   order,
			Profit:  profit,
			Grams:   grams,
		}); err != nil {
			return err
		}

		outcome = &CloseOutcome{
			Order: order,
			Balances: types.Balances{
				Cash: acct.ReservedAmount,
				Gold: acct.MetalWeight,
			},
			Profit: types.ProfitBreakdown{
				Client: profit,
				LP:     lpp.Value,
			},
			ClosingPrices: types.ClosingPrices{
				MT5:    mt5Close,
				Client: clientClose,
				SpreadApplied: pricing.SpreadFor(reverseSide(order.Type),
					acct.AskSpread, acct.BidSpread),
			},
			MT5Synchronized: mt5Synchronized,
		}
		return nil
	})
	if err != nil {
		return nil, wrapTxError(err)
	}

	logger.Info().
		Float64("profit", outcome.Profit.Client).
		Bool("mt5_synchronized", outcome.MT5Synchronized).
		Msg("trade closed")
	return outcome, nil
}

// GetOrder returns an order with its journal rows.
func (s *Service) GetOrder(orderNo, adminID string) (*types.Order, []types.Ledger, error) {
	order, err := s.db.GetOrder(orderNo, adminID)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.db.LedgerForOrder(orderNo, adminID)
	if err != nil {
		return nil, nil, err
	}
	return order, rows, nil
}

// ListOrders returns an admin's orders.
func (s *Service) ListOrders(adminID string) ([]types.Order, error) {
	return s.db.ListOrders(adminID)
}

func reverseSide(side string) string {
	if side == types.SideBuy {
		return types.SideSell
	}
	return types.SideBuy
}

// wrapTxError keeps domain outcomes intact and folds infrastructure
// failures into the aborted-transaction kind.
func wrapTxError(err error) error {
	var de *types.DomainError
	if errors.As(err, &de) {
		return err
	}
	return types.NewDomainError(types.KindTransactionAborted, "transaction aborted: %v", err)
}
