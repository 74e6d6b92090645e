package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ksred/null-ledger/internal/types"
	"github.com/ksred/null-ledger/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid API credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
	ErrInvalidToken       = errors.New("invalid token")
)

// DefaultTokenTTL is how long issued tokens stay valid.
const DefaultTokenTTL = 24 * time.Hour

// Credentials represents the API authentication credentials
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// TokenResponse represents the JWT token response
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Principal  string    `json:"principal"`
	Expiration time.Time `json:"expiration"`
}

// Claims carries the principal a relayer or operator acts as. Roles are not
// embedded: they are looked up through the AuthorizationOracle on every call.
type Claims struct {
	jwt.RegisteredClaims
	Principal string `json:"principal"`
}

type credential struct {
	secret    string
	principal types.Address
}

// TokenService issues and validates HS256 tokens bound to ledger principals.
type TokenService struct {
	jwtSecret []byte
	ttl       time.Duration

	mu          sync.RWMutex
	credentials map[string]credential // map[APIKey]credential
}

// NewTokenService creates a token service with the given signing secret.
func NewTokenService(jwtSecret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{
		jwtSecret:   []byte(jwtSecret),
		ttl:         ttl,
		credentials: make(map[string]credential),
	}
}

// RegisterAPICredentials binds an API key pair to a principal address.
func (s *TokenService) RegisterAPICredentials(apiKey, apiSecret string, principal types.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[apiKey] = credential{secret: apiSecret, principal: principal}
}

// GenerateToken generates a JWT token for valid API credentials
func (s *TokenService) GenerateToken(creds Credentials) (*TokenResponse, error) {
	principal, ok := s.validateCredentials(creds)
	if !ok {
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	expiration := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.Hex(),
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		Principal: principal.Hex(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Principal:  principal.Hex(),
		Expiration: expiration,
	}, nil
}

// ValidateToken verifies signature and expiry and returns the bound principal.
func (s *TokenService) ValidateToken(tokenString string) (types.Address, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return types.Address{}, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return types.Address{}, ErrInvalidToken
	}
	principal, err := types.ParseAddress(claims.Principal)
	if err != nil {
		return types.Address{}, ErrInvalidToken
	}
	return principal, nil
}

func (s *TokenService) validateCredentials(creds Credentials) (types.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, exists := s.credentials[creds.APIKey]
	if !exists || c.secret != creds.APISecret {
		return types.Address{}, false
	}
	return c.principal, true
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	tokens *TokenService
	roles  *RoleRegistry
}

// NewGinHandlers creates a new set of HTTP handlers for authentication endpoints
func NewGinHandlers(tokens *TokenService, roles *RoleRegistry) *GinHandlers {
	return &GinHandlers{tokens: tokens, roles: roles}
}

// GenerateTokenHandler handles POST requests to generate JWT tokens
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.tokens.GenerateToken(creds)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}

type roleRequest struct {
	Principal string `json:"principal" binding:"required"`
	Role      string `json:"role" binding:"required"`
}

// GrantRoleHandler adds a principal to a role. Owner only.
func (h *GinHandlers) GrantRoleHandler() gin.HandlerFunc {
	return h.roleHandler(h.roles.Grant)
}

// RevokeRoleHandler removes a principal from a role. Owner only.
func (h *GinHandlers) RevokeRoleHandler() gin.HandlerFunc {
	return h.roleHandler(h.roles.Revoke)
}

func (h *GinHandlers) roleHandler(apply func(caller, principal types.Address, role types.Role) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req roleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		principal, err := types.ParseAddress(req.Principal)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		role, ok := types.ParseRole(req.Role)
		if !ok {
			response.BadRequest(c, "unknown role")
			return
		}
		if err := apply(Principal(c), principal, role); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"principal": principal.Hex(), "role": role})
	}
}

// TransferOwnershipHandler hands the owner role to another principal.
func (h *GinHandlers) TransferOwnershipHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Owner string `json:"owner" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		next, err := types.ParseAddress(req.Owner)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := h.roles.TransferOwnership(Principal(c), next); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"owner": next.Hex()})
	}
}

// ListRoleHandler lists the members of a role.
func (h *GinHandlers) ListRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := types.ParseRole(c.Param("role"))
		if !ok {
			response.BadRequest(c, "unknown role")
			return
		}
		members := h.roles.Members(role)
		out := make([]string, len(members))
		for i, m := range members {
			out[i] = m.Hex()
		}
		response.Success(c, gin.H{"role": role, "members": out})
	}
}

// PrincipalKey is the gin context key holding the authenticated principal.
const PrincipalKey = "principal"

// Principal returns the authenticated principal set by the JWT middleware,
// or the zero address when the request is unauthenticated.
func Principal(c *gin.Context) types.Address {
	if v, ok := c.Get(PrincipalKey); ok {
		if addr, ok := v.(types.Address); ok {
			return addr
		}
	}
	return types.ZeroAddress
}
