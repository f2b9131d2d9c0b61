package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ledgerdesk/backend/internal/models"
	"github.com/spf13/viper"
)

// Token verification failures. Expired tokens are surfaced distinctly so the
// gate can tell the caller to log in again.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// TokenClaims is the identity a verified token carries. Account existence
// and active state are checked by the authorization gate, not here, so a
// deactivation after issuance still takes effect on the next request.
type TokenClaims struct {
	UserID string
	Role   models.Role
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies signed, time-limited session tokens.
// There is no refresh mechanism; clients re-login after expiry.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

func NewTokenService() *TokenService {
	viper.SetDefault("jwt.expiry_hours", 24)

	return &TokenService{
		secret: []byte(viper.GetString("jwt.secret_key")),
		expiry: time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour,
	}
}

// Issue produces an HS256 token embedding identity and role.
func (t *TokenService) Issue(userID string, role models.Role) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiry)),
		},
	})

	return token.SignedString(t.secret)
}

// Verify checks signature and expiry only.
func (t *TokenService) Verify(tokenString string) (TokenClaims, error) {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return t.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return TokenClaims{}, ErrTokenExpired
		}
		return TokenClaims{}, ErrTokenInvalid
	}

	if !token.Valid {
		return TokenClaims{}, ErrTokenInvalid
	}

	role := models.Role(claims.Role)
	if claims.Subject == "" || !role.Valid() {
		return TokenClaims{}, ErrTokenInvalid
	}

	return TokenClaims{UserID: claims.Subject, Role: role}, nil
}
