package service

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stitchdesk/stitchdesk/internal/model"
)

const SessionCookie = "auth_token"

var ErrInvalidSession = errors.New("invalid session token")

// SessionService issues and verifies the HS256 session tokens that identify
// callers. Account management lives elsewhere; this only reads identities.
type SessionService struct {
	secret       []byte
	expiry       time.Duration
	isProduction bool
}

func NewSessionService(secret string, expiry time.Duration, isProduction bool) *SessionService {
	if expiry <= 0 {
		expiry = 168 * time.Hour
	}
	return &SessionService{secret: []byte(secret), expiry: expiry, isProduction: isProduction}
}

func (s *SessionService) IssueToken(caller model.Caller) (string, error) {
	role := caller.Role
	if role == "" {
		role = model.RoleUser
	}
	claims := jwt.MapClaims{
		"username": caller.Username,
		"email":    caller.Email,
		"role":     role,
		"exp":      time.Now().Add(s.expiry).Unix(),
		"iat":      time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func (s *SessionService) VerifyToken(tokenString string) (*model.Caller, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidSession
	}

	username, _ := claims["username"].(string)
	if username == "" {
		return nil, fmt.Errorf("%w: missing username", ErrInvalidSession)
	}
	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)
	if role != model.RoleAdmin {
		role = model.RoleUser
	}

	return &model.Caller{Username: username, Email: email, Role: role}, nil
}

// TokenFromRequest reads the session token from the cookie or a bearer header.
func TokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func (s *SessionService) SetCookie(w http.ResponseWriter, token string, expiry time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Expires:  expiry,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.isProduction,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *SessionService) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Expires:  time.Unix(0, 0),
		Path:     "/",
		HttpOnly: true,
		Secure:   s.isProduction,
		SameSite: http.SameSiteLaxMode,
	})
}
