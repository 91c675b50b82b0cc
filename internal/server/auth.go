package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// Auth resolves callers two ways: browser logins ride a session cookie
// backed by the users and sessions tables, automation presents the static
// admin token from config. Without a database pool only the token path
// works and the login endpoints refuse.
type Auth struct {
	pool       *pgxpool.Pool
	adminToken string
	cookieName string
	sessionTTL time.Duration
}

func NewAuth(pool *pgxpool.Pool, cfg ServerConfig) *Auth {
	auth := &Auth{
		pool:       pool,
		adminToken: strings.TrimSpace(cfg.Security.AdminToken),
		cookieName: strings.TrimSpace(cfg.Auth.CookieName),
		sessionTTL: 8 * time.Hour,
	}
	if auth.cookieName == "" {
		auth.cookieName = "check_session"
	}
	if raw := strings.TrimSpace(cfg.Auth.SessionTTL); raw != "" {
		if ttl, err := time.ParseDuration(raw); err == nil && ttl > 0 {
			auth.sessionTTL = ttl
		}
	}
	return auth
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *Auth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if a.pool == nil {
		writeError(w, http.StatusServiceUnavailable, "user accounts need the database")
		return
	}
	var req loginRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}

	var userID, passwordHash, role string
	row := a.pool.QueryRow(r.Context(),
		`SELECT id, password_hash, role FROM users WHERE username=$1`, req.Username)
	if err := row.Scan(&userID, &passwordHash, &role); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := newSessionToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session error")
		return
	}
	// Opportunistic sweep keeps dead sessions from piling up.
	_, _ = a.pool.Exec(r.Context(), `DELETE FROM sessions WHERE expires_at < now()`)
	if _, err := a.pool.Exec(r.Context(),
		`INSERT INTO sessions (token_hash, user_id, expires_at) VALUES ($1, $2, $3)`,
		hashToken(token), userID, time.Now().Add(a.sessionTTL)); err != nil {
		writeError(w, http.StatusInternalServerError, "session error")
		return
	}

	http.SetCookie(w, a.sessionCookie(token, int(a.sessionTTL.Seconds()), r.TLS != nil))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "role": role})
}

func (a *Auth) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(a.cookieName); err == nil && a.pool != nil {
		_, _ = a.pool.Exec(r.Context(),
			`DELETE FROM sessions WHERE token_hash=$1`, hashToken(cookie.Value))
	}
	http.SetCookie(w, a.sessionCookie("", -1, false))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *Auth) HandleMe(w http.ResponseWriter, r *http.Request) {
	principal, err := a.AuthenticateRequest(r)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"username":      principal.Username,
		"role":          principal.Role,
	})
}

func (a *Auth) sessionCookie(value string, maxAge int, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     a.cookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
}

// Require gates a handler on any authenticated caller and stashes the
// principal in the request context for downstream handlers.
func (a *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.AuthenticateRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return a.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if principal, _ := PrincipalFromContext(r.Context()); principal.Role != "admin" {
			writeError(w, http.StatusForbidden, "admin required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// AuthenticateRequest tries the session cookie first, then the admin token
// via X-Admin-Token or a bearer Authorization header.
func (a *Auth) AuthenticateRequest(r *http.Request) (Principal, error) {
	if principal, ok := a.sessionPrincipal(r); ok {
		return principal, nil
	}
	if principal, ok := a.tokenPrincipal(r); ok {
		return principal, nil
	}
	return Principal{}, errors.New("no valid session")
}

func (a *Auth) sessionPrincipal(r *http.Request) (Principal, bool) {
	if a.pool == nil {
		return Principal{}, false
	}
	cookie, err := r.Cookie(a.cookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return Principal{}, false
	}
	var principal Principal
	row := a.pool.QueryRow(r.Context(),
		`SELECT u.id, u.username, u.role
		   FROM sessions s JOIN users u ON u.id = s.user_id
		  WHERE s.token_hash=$1 AND s.expires_at > now()`, hashToken(cookie.Value))
	if err := row.Scan(&principal.Subject, &principal.Username, &principal.Role); err != nil {
		return Principal{}, false
	}
	return principal, true
}

func (a *Auth) tokenPrincipal(r *http.Request) (Principal, bool) {
	if a.adminToken == "" {
		return Principal{}, false
	}
	token := strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	if token == "" {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(header), "bearer ") {
			token = strings.TrimSpace(header[len("bearer "):])
		}
	}
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.adminToken)) != 1 {
		return Principal{}, false
	}
	return Principal{Subject: "admin-token", Username: "admin-token", Role: "admin"}, true
}

// SeedUser creates or updates a login. The check-api boot flags use it so
// deployments can provision an admin without touching psql.
func SeedUser(ctx context.Context, pool *pgxpool.Pool, username, password, role string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if role != "admin" && role != "viewer" {
		return fmt.Errorf("unknown role %q (want admin or viewer)", role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = pool.Exec(ctx,
		`INSERT INTO users (username, password_hash, role) VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO UPDATE SET password_hash=$2, role=$3, updated_at=now()`,
		username, string(hash), role)
	return err
}

type principalContextKey struct{}

func withPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(Principal)
	return principal, ok
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newSessionToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
