// Package auth manages admin credentials and JWT issuance for the admin API.
// Passwords are stored as bcrypt hashes only.
package auth

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/aurify/goldtrade/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid admin credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
)

// Admin is a back-office operator account.
type Admin struct {
	gorm.Model   `json:"-"`
	AdminID      string `gorm:"uniqueIndex" json:"admin_id"`
	Email        string `gorm:"uniqueIndex" json:"email"`
	Name         string `json:"name"`
	PasswordHash string `json:"-"`
}

// Credentials represents an admin login request.
type Credentials struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse represents the JWT token response.
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	AdminID    string    `json:"admin_id"`
	Expiration time.Time `json:"expiration"`
}

// Claims represents the JWT claims structure.
type Claims struct {
	jwt.RegisteredClaims
	AdminID string `json:"admin_id"`
}

// Service handles authentication and authorization operations.
type Service struct {
	db        *gorm.DB
	jwtSecret []byte
}

// NewService creates a new authentication service with the given JWT secret.
func NewService(db *gorm.DB, jwtSecret string) *Service {
	return &Service{db: db, jwtSecret: []byte(jwtSecret)}
}

// Register creates an admin with a bcrypt-hashed password.
func (s *Service) Register(email, name, password string) (*Admin, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	admin := &Admin{
		AdminID:      "ADM_" + uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
	}
	if err := s.db.Create(admin).Error; err != nil {
		return nil, err
	}
	return admin, nil
}

// Login verifies credentials and issues a 24-hour JWT carrying the admin id.
func (s *Service) Login(creds Credentials) (*TokenResponse, error) {
	var admin Admin
	if err := s.db.Where("email = ?", creds.Email).First(&admin).Error; err != nil {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(creds.Password)) != nil {
		return nil, ErrInvalidCredentials
	}

	expiration := time.Now().Add(24 * time.Hour)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
		AdminID: admin.AdminID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		AdminID:    admin.AdminID,
		Expiration: expiration,
	}, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// GinHandlers contains HTTP handlers for authentication endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// RegisterHandler handles POST requests to create admin accounts.
func (h *GinHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Email    string `json:"email" binding:"required"`
			Name     string `json:"name"`
			Password string `json:"password" binding:"required,min=8"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		admin, err := h.service.Register(request.Email, request.Name, request.Password)
		response.Handle(c, admin, err)
	}
}

// LoginHandler handles POST requests to exchange credentials for a JWT.
func (h *GinHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.Login(creds)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}
