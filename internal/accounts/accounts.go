// Package accounts owns the Account records the trade coordinator draws
// margin from: balances, spreads and the freeze flag.
package accounts

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/aurify/goldtrade/internal/pricing"
	"github.com/aurify/goldtrade/internal/types"
	"github.com/aurify/goldtrade/pkg/response"
)

// Service handles account management operations.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{db: NewDatabase(gormDB)}
}

// CreateAccount registers a trading account with two-place rounded balances.
func (s *Service) CreateAccount(acct *types.Account) error {
	acct.AmountFC = pricing.Round2(acct.AmountFC)
	acct.ReservedAmount = pricing.Round2(acct.ReservedAmount)
	acct.MetalWeight = pricing.Round2(acct.MetalWeight)

	if err := s.db.CreateAccount(acct); err != nil {
		return err
	}
	log.Info().
		Str("account_id", acct.AccountID).
		Str("admin_id", acct.AdminID).
		Float64("reserved", acct.ReservedAmount).
		Msg("account created")
	return nil
}

// GetAccount fetches one account for an admin.
func (s *Service) GetAccount(accountID, adminID string) (*types.Account, error) {
	return s.db.GetAccount(accountID, adminID)
}

// Balances returns the account's cash and gold views.
func (s *Service) Balances(accountID, adminID string) (*types.Balances, error) {
	acct, err := s.db.GetAccount(accountID, adminID)
	if err != nil {
		return nil, err
	}
	return &types.Balances{Cash: acct.ReservedAmount, Gold: acct.MetalWeight}, nil
}

// SetFreeze freezes or unfreezes an account.
func (s *Service) SetFreeze(accountID, adminID string, frozen bool) error {
	if err := s.db.SetFreeze(accountID, adminID, frozen); err != nil {
		return err
	}
	log.Info().
		Str("account_id", accountID).
		Bool("frozen", frozen).
		Msg("account freeze state changed")
	return nil
}

// GinHandlers contains HTTP handlers for account endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// CreateAccountHandler handles POST requests to register accounts.
func (h *GinHandlers) CreateAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var acct types.Account
		if err := c.ShouldBindJSON(&acct); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		acct.AdminID = c.Param("admin_id")
		if acct.AccountID == "" || acct.AdminID == "" {
			response.BadRequest(c, "account_id and admin_id are required")
			return
		}

		err := h.service.CreateAccount(&acct)
		response.Handle(c, acct, err)
	}
}

// GetAccountHandler handles GET requests for a single account.
func (h *GinHandlers) GetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		acct, err := h.service.GetAccount(c.Param("account_id"), c.Param("admin_id"))
		response.Handle(c, acct, err)
	}
}

// ListAccountsHandler handles GET requests for an admin's accounts.
func (h *GinHandlers) ListAccountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accts, err := h.service.db.ListAccounts(c.Param("admin_id"))
		response.Handle(c, accts, err)
	}
}

// FreezeHandler handles PATCH requests to change the freeze flag.
func (h *GinHandlers) FreezeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			IsFreeze *bool `json:"is_freeze" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		err := h.service.SetFreeze(c.Param("account_id"), c.Param("admin_id"), *request.IsFreeze)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"account_id": c.Param("account_id"), "is_freeze": *request.IsFreeze})
	}
}
