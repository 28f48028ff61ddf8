package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

const (
	UserTypeAdmin   = "admin"
	UserTypeStaff   = "staff"
	UserTypeTeacher = "teacher"
	UserTypeParent  = "parent"
	UserTypeStudent = "student"
)

// Identity is the authenticated caller as seen by the firewall and the data
// protection layers. A nil *Identity is an anonymous request.
type Identity struct {
	UserID            string
	UserType          string
	TenantID          string
	Permissions       []string
	TwoFactorEnabled  bool
	TwoFactorVerified bool
	// SessionFingerprint is the device hash the session was issued to.
	SessionFingerprint string
	IssuedAt           time.Time
}

func (i *Identity) HasPermission(p string) bool {
	return i != nil && slices.Contains(i.Permissions, p)
}

// IsPrivileged reports admin or staff.
func (i *Identity) IsPrivileged() bool {
	return i != nil && (i.UserType == UserTypeAdmin || i.UserType == UserTypeStaff)
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the caller identity or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

type TokenClaims struct {
	UserID            string   `json:"user_id"`
	UserType          string   `json:"user_type"`
	TenantID          string   `json:"tenant_id,omitempty"`
	Permissions       []string `json:"permissions,omitempty"`
	TwoFactorEnabled  bool     `json:"tfa_enabled,omitempty"`
	TwoFactorVerified bool     `json:"tfa_verified,omitempty"`
	Fingerprint       string   `json:"fph,omitempty"`
	jwt.RegisteredClaims
}

// JWT Logic
type JWTManager struct {
	secretKey     string
	tokenDuration time.Duration
}

func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{secretKey, tokenDuration}
}

func (m *JWTManager) Generate(id Identity) (string, error) {
	issued := id.IssuedAt
	if issued.IsZero() {
		issued = time.Now()
	}
	claims := TokenClaims{
		UserID:            id.UserID,
		UserType:          id.UserType,
		TenantID:          id.TenantID,
		Permissions:       id.Permissions,
		TwoFactorEnabled:  id.TwoFactorEnabled,
		TwoFactorVerified: id.TwoFactorVerified,
		Fingerprint:       id.SessionFingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			ExpiresAt: jwt.NewNumericDate(issued.Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(issued),
			Issuer:    "campusguard",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.secretKey))
}

func (m *JWTManager) Verify(tokenStr string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.secretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	id := &Identity{
		UserID:             claims.UserID,
		UserType:           claims.UserType,
		TenantID:           claims.TenantID,
		Permissions:        claims.Permissions,
		TwoFactorEnabled:   claims.TwoFactorEnabled,
		TwoFactorVerified:  claims.TwoFactorVerified,
		SessionFingerprint: claims.Fingerprint,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	return id, nil
}
