package auth

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Operator is a configured API account
type Operator struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"` // bcrypt
	Role         string `json:"role"`
}

// Service validates operator logins and manages refresh tokens in memory.
// Tokens do not survive restarts; operators simply log in again.
type Service struct {
	jwt       *JWTManager
	passwords *PasswordManager
	operators map[string]Operator
	logger    zerolog.Logger

	mu      sync.Mutex
	refresh map[string]refreshEntry // token -> entry
}

type refreshEntry struct {
	username  string
	expiresAt time.Time
}

// NewService creates an auth service from configured operators
func NewService(jwt *JWTManager, passwords *PasswordManager, operators []Operator, logger zerolog.Logger) *Service {
	byName := make(map[string]Operator, len(operators))
	for _, op := range operators {
		if op.Role == "" {
			op.Role = RoleViewer
		}
		byName[op.Username] = op
	}
	return &Service{
		jwt:       jwt,
		passwords: passwords,
		operators: byName,
		logger:    logger.With().Str("component", "auth").Logger(),
		refresh:   make(map[string]refreshEntry),
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// HandleLogin issues a token pair for valid operator credentials
func (s *Service) HandleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	op, ok := s.operators[req.Username]
	if !ok || !s.passwords.VerifyPassword(req.Password, op.PasswordHash) {
		s.logger.Warn().Str("username", req.Username).Msg("Failed login attempt")
		c.JSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidCredentials.Code, "message": ErrInvalidCredentials.Message})
		return
	}

	pair, err := s.issuePair(op)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "TOKEN_GENERATION_FAILED"})
		return
	}
	s.logger.Info().Str("username", op.Username).Msg("Operator logged in")
	c.JSON(http.StatusOK, pair)
}

// HandleRefresh exchanges a refresh token for a new pair. The old refresh
// token is revoked.
func (s *Service) HandleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	s.mu.Lock()
	entry, ok := s.refresh[req.RefreshToken]
	if ok {
		delete(s.refresh, req.RefreshToken)
	}
	s.mu.Unlock()

	if !ok || time.Now().After(entry.expiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidToken.Code, "message": "refresh token invalid or expired"})
		return
	}

	op, ok := s.operators[entry.username]
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidCredentials.Code})
		return
	}

	pair, err := s.issuePair(op)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "TOKEN_GENERATION_FAILED"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (s *Service) issuePair(op Operator) (*TokenPair, error) {
	pair, err := s.jwt.GenerateTokenPair(UserClaims{
		UserID:   op.Username,
		Username: op.Username,
		Role:     op.Role,
	})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.refresh[pair.RefreshToken] = refreshEntry{
		username:  op.Username,
		expiresAt: time.Now().Add(s.jwt.RefreshTokenDuration()),
	}
	s.mu.Unlock()
	return pair, nil
}
