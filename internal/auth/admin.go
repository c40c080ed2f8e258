package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Admin auth errors
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrTooManyAttempts    = errors.New("too many failed login attempts, try again later")
	ErrInvalidSession     = errors.New("invalid or expired session")
)

// Login throttling: after maxLoginFailures failed attempts from one IP
// inside the lockout window, further attempts are rejected until the
// window slides past.
const (
	maxLoginFailures = 5
	lockoutWindow    = 15 * time.Minute
	sessionTTL       = 12 * time.Hour
)

// AdminAuth authenticates the platform operator with email + bcrypt
// password hash and issues opaque session tokens.
type AdminAuth struct {
	email        string
	passwordHash string

	mu       sync.Mutex
	sessions map[string]time.Time // token -> expiry
	failures map[string][]time.Time
}

// NewAdminAuth creates an admin authenticator. passwordHash is a bcrypt
// hash, typically from the ADMIN_PASSWORD_HASH environment variable.
func NewAdminAuth(email, passwordHash string) *AdminAuth {
	return &AdminAuth{
		email:        email,
		passwordHash: passwordHash,
		sessions:     make(map[string]time.Time),
		failures:     make(map[string][]time.Time),
	}
}

// Login verifies credentials and returns a session token. Failed attempts
// count against the caller IP; too many inside the window fail with
// ErrTooManyAttempts regardless of credentials.
func (a *AdminAuth) Login(email, password, ip string) (string, error) {
	a.mu.Lock()
	if a.lockedOut(ip) {
		a.mu.Unlock()
		return "", ErrTooManyAttempts
	}
	a.mu.Unlock()

	// Constant-time email comparison; bcrypt handles the password.
	emailOK := subtle.ConstantTimeCompare([]byte(email), []byte(a.email)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password)) == nil

	if !emailOK || !passOK {
		a.mu.Lock()
		a.failures[ip] = append(a.failures[ip], time.Now())
		a.mu.Unlock()
		return "", ErrInvalidCredentials
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := "adm_" + hex.EncodeToString(b)

	a.mu.Lock()
	delete(a.failures, ip)
	a.sessions[token] = time.Now().Add(sessionTTL)
	a.mu.Unlock()

	return token, nil
}

// ValidateToken checks a session token.
func (a *AdminAuth) ValidateToken(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	expiry, ok := a.sessions[token]
	if !ok {
		return ErrInvalidSession
	}
	if time.Now().After(expiry) {
		delete(a.sessions, token)
		return ErrInvalidSession
	}
	return nil
}

// Logout invalidates a session token.
func (a *AdminAuth) Logout(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, token)
}

// lockedOut reports whether an IP has exhausted its attempts. Expired
// failures are pruned as a side effect. Caller holds a.mu.
func (a *AdminAuth) lockedOut(ip string) bool {
	cutoff := time.Now().Add(-lockoutWindow)
	recent := a.failures[ip][:0]
	for _, ts := range a.failures[ip] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	if len(recent) == 0 {
		delete(a.failures, ip)
		return false
	}
	a.failures[ip] = recent
	return len(recent) >= maxLoginFailures
}

// HashPassword produces a bcrypt hash for operator setup tooling.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
