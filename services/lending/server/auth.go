package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"

	"moneymarket/native/lending"
	"moneymarket/services/lending/api"
)

// AccountHeader names the acting account when authentication is disabled.
const AccountHeader = "X-Account"

// AuthConfig controls bearer token validation. Tokens are HMAC signed JWTs
// whose subject is the acting account's hex address.
type AuthConfig struct {
	Disabled   bool
	HMACSecret string
	Issuer     string
	Audience   string
	ScopeClaim string
	ClockSkew  time.Duration
}

type principalKey struct{}

// Principal is the authenticated caller.
type Principal struct {
	Account string
	Scopes  []string
}

// PrincipalFromContext returns the caller attached by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Authenticator validates bearer tokens and enforces scopes.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
}

// NewAuthenticator validates cfg and returns an authenticator.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) (*Authenticator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	secret := strings.TrimSpace(cfg.HMACSecret)
	if !cfg.Disabled && secret == "" {
		return nil, errors.New("auth: hmac secret required")
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, secret: []byte(secret), logger: logger}, nil
}

// Middleware requires a valid token carrying every scope in required. With
// authentication disabled the account is read from AccountHeader and every
// scope is granted.
func (a *Authenticator) Middleware(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := a.authenticate(r)
			if err != nil {
				a.logger.Warn("lending auth rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()))
				writeError(w, err)
				return
			}
			if !hasScopes(principal.Scopes, required) {
				writeError(w, fmt.Errorf("%w: scope %s required", lending.ErrUnauthorized, strings.Join(required, " ")))
				return
			}
			ctx := context.WithValue(r.Context(), principalKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) authenticate(r *http.Request) (Principal, error) {
	if a.cfg.Disabled {
		account := strings.TrimSpace(r.Header.Get(AccountHeader))
		if !common.IsHexAddress(account) {
			return Principal{}, fmt.Errorf("%w: %s header required", api.ErrUnauthenticated, AccountHeader)
		}
		return Principal{Account: common.HexToAddress(account).Hex(), Scopes: []string{api.ScopeWrite, api.ScopeAdmin}}, nil
	}
	raw := extractBearer(r.Header.Get("Authorization"))
	if raw == "" {
		return Principal{}, fmt.Errorf("%w: missing bearer token", api.ErrUnauthenticated)
	}
	claims, err := a.parseToken(raw)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", api.ErrUnauthenticated, err)
	}
	if err := validateClaims(claims, a.cfg.Issuer, a.cfg.Audience); err != nil {
		return Principal{}, fmt.Errorf("%w: %v", api.ErrUnauthenticated, err)
	}
	subject, _ := claims["sub"].(string)
	if !common.IsHexAddress(strings.TrimSpace(subject)) {
		return Principal{}, fmt.Errorf("%w: subject must be an account address", api.ErrUnauthenticated)
	}
	return Principal{
		Account: common.HexToAddress(strings.TrimSpace(subject)).Hex(),
		Scopes:  extractScopes(claims, a.cfg.ScopeClaim),
	}, nil
}

func (a *Authenticator) parseToken(raw string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func validateClaims(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if audience != "" {
		switch val := claims["aud"].(type) {
		case string:
			if val != audience {
				return errors.New("audience mismatch")
			}
		case []interface{}:
			matched := false
			for _, entry := range val {
				if s, ok := entry.(string); ok && s == audience {
					matched = true
					break
				}
			}
			if !matched {
				return errors.New("audience mismatch")
			}
		default:
			return errors.New("audience missing")
		}
	}
	return nil
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	switch v := claims[scopeClaim].(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScopes(scopes []string, required []string) bool {
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	for _, req := range required {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}

func extractBearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
