// Package auth provides JWT-based authentication for the HTTP API. The
// engine runs single-tenant: operators are configured accounts, not
// self-service registrations.
package auth

import "fmt"

// Operator roles
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// UserClaims is the payload embedded in access tokens
type UserClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// IsAdmin reports whether the claims carry the admin role
func (c UserClaims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// TokenPair bundles an access token with its refresh token
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// AuthError is a coded authentication failure
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var (
	ErrInvalidToken       = AuthError{Code: "INVALID_TOKEN", Message: "token is invalid"}
	ErrTokenExpired       = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized       = AuthError{Code: "UNAUTHORIZED", Message: "authentication required"}
	ErrForbidden          = AuthError{Code: "FORBIDDEN", Message: "insufficient permissions"}
	ErrInvalidCredentials = AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid username or password"}
)
