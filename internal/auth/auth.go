// Package auth implements the single-owner access lock: an optional
// bcrypt password whose successful login sets an HMAC-signed cookie.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// CookieName carries the signed owner token.
	CookieName = "auth_token"

	subject    = "owner"
	defaultTTL = 7 * 24 * time.Hour
)

// Authenticator signs and validates owner cookies.
type Authenticator struct {
	secret       []byte
	passwordHash string
	ttl          time.Duration
}

// New builds an authenticator. An empty passwordHash disables the lock
// entirely (personal-device mode).
func New(secret, passwordHash string) *Authenticator {
	if secret == "" {
		// Development fallback; set COOKIE_SECRET in production
		secret = "readinglog-dev-secret-change-in-prod"
	}
	return &Authenticator{
		secret:       []byte(secret),
		passwordHash: passwordHash,
		ttl:          defaultTTL,
	}
}

// Enabled reports whether a password is configured at all.
func (a *Authenticator) Enabled() bool {
	return a.passwordHash != ""
}

// Login verifies the owner password.
func (a *Authenticator) Login(password string) error {
	if !a.Enabled() {
		return nil
	}
	return bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password))
}

// CreateSignedCookie creates a signed cookie value with an expiration.
func (a *Authenticator) CreateSignedCookie() string {
	// Cookie format: subject.expiration.signature
	expiration := time.Now().Add(a.ttl).Unix()
	data := fmt.Sprintf("%s.%d", subject, expiration)
	signature := a.sign(data)
	return base64.URLEncoding.EncodeToString([]byte(data + "." + signature))
}

// ValidateSignedCookie checks signature and expiration.
func (a *Authenticator) ValidateSignedCookie(cookieValue string) error {
	decoded, err := base64.URLEncoding.DecodeString(cookieValue)
	if err != nil {
		return fmt.Errorf("invalid cookie encoding")
	}

	parts := strings.Split(string(decoded), ".")
	if len(parts) != 3 {
		return fmt.Errorf("invalid cookie format")
	}
	subj, expirationStr, signature := parts[0], parts[1], parts[2]

	data := subj + "." + expirationStr
	if !a.verify(data, signature) {
		return fmt.Errorf("invalid signature")
	}
	if subj != subject {
		return fmt.Errorf("invalid subject")
	}

	expiration, err := strconv.ParseInt(expirationStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid expiration")
	}
	if time.Now().Unix() > expiration {
		return fmt.Errorf("cookie expired")
	}
	return nil
}

func (a *Authenticator) sign(data string) string {
	h := hmac.New(sha256.New, a.secret)
	h.Write([]byte(data))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

func (a *Authenticator) verify(data, signature string) bool {
	expected := a.sign(data)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SetAuthCookie sets the signed auth cookie on the response.
func (a *Authenticator) SetAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    a.CreateSignedCookie(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(a.ttl.Seconds()),
	})
}

// ClearAuthCookie clears the auth cookie.
func ClearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// HashPassword is a helper for generating OWNER_PASSWORD_HASH values.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
