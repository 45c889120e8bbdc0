package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any token that fails validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims identifies the dashboard user a bearer token was issued to.
type Claims struct {
	UserID   string
	Username string
	TokenID  uuid.UUID
}

type JWTManager struct {
	secretKey string
	ttl       time.Duration
	now       func() time.Time
}

func NewJWTManager(secretKey string, ttl time.Duration) *JWTManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTManager{
		secretKey: secretKey,
		ttl:       ttl,
		now:       time.Now,
	}
}

// GenerateToken signs an HS256 token for the given user.
func (j *JWTManager) GenerateToken(userID, username string) (string, error) {
	if j.secretKey == "" {
		return "", fmt.Errorf("JWT secret key is empty")
	}
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}

	now := j.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":       userID,
		"username": username,
		"jti":      uuid.New().String(),
		"iat":      now.Unix(),
		"exp":      now.Add(j.ttl).Unix(),
	})

	return token.SignedString([]byte(j.secretKey))
}

// ValidateToken checks signature and expiry and returns the user claims.
// Numeric "id" claims are accepted and normalized to their decimal string.
func (j *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	if j.secretKey == "" {
		return nil, fmt.Errorf("%w: verifier has no secret", ErrInvalidToken)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(j.secretKey), nil
	}, jwt.WithTimeFunc(j.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}

	userID, err := NormalizeUserID(claims["id"])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	username, _ := claims["username"].(string)

	out := &Claims{UserID: userID, Username: username}
	if jti, ok := claims["jti"].(string); ok {
		if parsed, err := uuid.Parse(jti); err == nil {
			out.TokenID = parsed
		}
	}
	return out, nil
}

// NormalizeUserID renders a user identifier as a trimmed decimal or opaque
// string so owners compare equal regardless of how they were encoded.
func NormalizeUserID(v interface{}) (string, error) {
	switch id := v.(type) {
	case string:
		id = strings.TrimSpace(id)
		if id == "" {
			return "", fmt.Errorf("empty id claim")
		}
		return id, nil
	case float64:
		if id != float64(int64(id)) {
			return "", fmt.Errorf("non-integer id claim %v", id)
		}
		return strconv.FormatInt(int64(id), 10), nil
	case int:
		return strconv.Itoa(id), nil
	case int64:
		return strconv.FormatInt(id, 10), nil
	case nil:
		return "", fmt.Errorf("missing id claim")
	default:
		return "", fmt.Errorf("unsupported id claim type %T", v)
	}
}
