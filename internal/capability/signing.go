package capability

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arcwell-foundry/aria/pkg/errors"
)

const issuer = "aria"

// Claims carries a token across process boundaries as a signed JWT
type Claims struct {
	GoalID           string              `json:"goal_id"`
	Delegatee        string              `json:"delegatee"`
	AllowedActions   []string            `json:"allowed_actions"`
	DeniedActions    []string            `json:"denied_actions"`
	DataScope        map[string][]string `json:"data_scope"`
	TimeLimitSeconds int                 `json:"time_limit_seconds"`
	CreatedAt        string              `json:"created_at"`
	jwt.RegisteredClaims
}

// Sign encodes the token as an HS256 JWT. The JWT expires with the token.
func (t *Token) Sign(key []byte) (string, error) {
	if len(key) == 0 {
		return "", errors.NewValidationError("signing key is empty")
	}

	claims := Claims{
		GoalID:           t.goalID,
		Delegatee:        t.delegatee,
		AllowedActions:   copyStrings(t.allowedActions),
		DeniedActions:    copyStrings(t.deniedActions),
		DataScope:        copyScope(t.dataScope),
		TimeLimitSeconds: t.timeLimitSeconds,
		CreatedAt:        t.createdAt.Format(time.RFC3339Nano),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        t.tokenID,
			Issuer:    issuer,
			Subject:   t.delegatee,
			IssuedAt:  jwt.NewNumericDate(t.createdAt),
			ExpiresAt: jwt.NewNumericDate(t.ExpiresAt()),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign capability token: %w", err)
	}
	return signed, nil
}

// ParseSigned verifies a JWT produced by Sign and rebuilds the token. now
// may be nil to use the wall clock.
func ParseSigned(raw string, key []byte, now func() time.Time) (*Token, error) {
	if now == nil {
		now = time.Now
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return nil, errors.NewAuthorizationError(fmt.Sprintf("invalid capability token: %v", err)).WithCause(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.NewAuthorizationError("invalid capability token claims")
	}

	return FromMap(map[string]interface{}{
		fieldTokenID:        claims.ID,
		fieldDelegatee:      claims.Delegatee,
		fieldGoalID:         claims.GoalID,
		fieldAllowedActions: claims.AllowedActions,
		fieldDeniedActions:  claims.DeniedActions,
		fieldDataScope:      claims.DataScope,
		fieldTimeLimit:      claims.TimeLimitSeconds,
		fieldCreatedAt:      claims.CreatedAt,
	})
}
