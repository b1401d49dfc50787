package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nurpe/fieldops/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type Parser struct {
	secret []byte
}

func NewParser(secret string) *Parser {
	return &Parser{secret: []byte(secret)}
}

// Parse verifies an HS256 access token and returns its principal. The user id
// is read from user_id, falling back to sub.
func (p *Parser) Parse(token string) (model.Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return model.Principal{}, ErrInvalidToken
	}

	rawID := claims.UserID
	if rawID == "" {
		rawID = claims.Subject
	}
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: bad user id", ErrInvalidToken)
	}

	role := model.UserRole(claims.Role)
	switch role {
	case model.UserRoleAdmin, model.UserRoleDispatcher, model.UserRoleTechnician:
	default:
		return model.Principal{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	return model.Principal{UserID: userID, Role: role}, nil
}

// Sign issues a token for the principal. It is used by tooling and tests.
func (p *Parser) Sign(principal model.Principal, claims jwt.RegisteredClaims) (string, error) {
	c := Claims{
		UserID:           principal.UserID.String(),
		Role:             string(principal.Role),
		RegisteredClaims: claims,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.secret)
}
