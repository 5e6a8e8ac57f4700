package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
)

// Claims issued by the marketplace auth service: {id, role, exp}.
type Claims struct {
	UserID string `json:"id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type Verifier struct {
	alg    string
	key    any
	parser *jwt.Parser
}

func NewHS256Verifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("hs256 secret required")
	}
	return newVerifier(jwt.SigningMethodHS256.Alg(), []byte(secret)), nil
}

func NewRS256Verifier(pubKeyPath string) (*Verifier, error) {
	b, err := os.ReadFile(pubKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return newVerifier(jwt.SigningMethodRS256.Alg(), key), nil
}

// NewVerifier picks the algorithm from configuration.
func NewVerifier(alg, secret, pubKeyPath string) (*Verifier, error) {
	switch strings.ToUpper(alg) {
	case "RS256":
		return NewRS256Verifier(pubKeyPath)
	case "HS256", "":
		return NewHS256Verifier(secret)
	}
	return nil, fmt.Errorf("unsupported jwt alg %q", alg)
}

func newVerifier(alg string, key any) *Verifier {
	return &Verifier{
		alg:    alg,
		key:    key,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{alg}), jwt.WithExpirationRequired()),
	}
}

// Verify checks the credential and returns the identity it carries.
// Every failure is an apperr auth error with reason missing, invalid or expired.
func (v *Verifier) Verify(token string) (domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Identity{}, apperr.Auth(apperr.ReasonMissing, "no token provided")
	}
	claims := &Claims{}
	tok, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, apperr.Auth(apperr.ReasonExpired, "token expired")
		}
		return domain.Identity{}, &apperr.AppError{
			Kind: apperr.KindAuth, Reason: apperr.ReasonInvalid, Message: "invalid token", Cause: err,
		}
	}
	if !tok.Valid {
		return domain.Identity{}, apperr.Auth(apperr.ReasonInvalid, "invalid token")
	}
	uid := claims.UserID
	if uid == "" {
		uid = claims.Subject
	}
	if uid == "" {
		return domain.Identity{}, apperr.Auth(apperr.ReasonInvalid, "token carries no user id")
	}
	role := domain.Role(claims.Role)
	if role == "" {
		role = domain.RoleUser
	}
	return domain.Identity{UserID: uid, Role: role}, nil
}

func ParseBearerToken(header string) (string, error) {
	if header == "" {
		return "", apperr.Auth(apperr.ReasonMissing, "authorization header empty")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", apperr.Auth(apperr.ReasonInvalid, "invalid authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}
