// Package auth guards the relay behind a shared PIN. A correct PIN buys a
// short-lived JWT, presented afterwards as a cookie, a ?token= query
// parameter or a Bearer header. Attempts are rate limited per client IP.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/ehrlich-b/voxterm/internal/observe"
)

var (
	ErrBadPIN      = errors.New("auth: incorrect pin")
	ErrRateLimited = errors.New("auth: too many attempts")
	ErrNoToken     = errors.New("auth: missing token")
)

// CookieName carries the session token in browsers.
const CookieName = "voxterm_token"

const (
	limiterIdle   = 10 * time.Minute
	limiterPrune  = 1024
	defaultTTL    = 24 * time.Hour
	defaultPerMin = 10
)

// Config configures a Gate. With neither PIN nor PINHash set the gate is
// open.
type Config struct {
	PIN                  string
	PINHash              string // bcrypt hash, takes precedence over PIN
	TokenTTL             time.Duration
	MaxAttemptsPerMinute int
}

type ipLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// Gate checks PINs and session tokens.
type Gate struct {
	log     *slog.Logger
	metrics *observe.Metrics
	secret  []byte

	mu       sync.Mutex
	hash     []byte
	ttl      time.Duration
	perMin   int
	limiters map[string]*ipLimiter
}

func NewGate(cfg Config, logger *slog.Logger, metrics *observe.Metrics) (*Gate, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.Discard()
	}
	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}
	g := &Gate{
		log:      logger.With("component", "auth"),
		metrics:  metrics,
		secret:   secret,
		limiters: make(map[string]*ipLimiter),
	}
	if err := g.Update(cfg); err != nil {
		return nil, err
	}
	return g, nil
}

// Update swaps in a new PIN and limits. Tokens issued earlier stay valid.
func (g *Gate) Update(cfg Config) error {
	var hash []byte
	switch {
	case cfg.PINHash != "":
		if _, err := bcrypt.Cost([]byte(cfg.PINHash)); err != nil {
			return fmt.Errorf("pin_hash: %w", err)
		}
		hash = []byte(cfg.PINHash)
	case cfg.PIN != "":
		h, err := bcrypt.GenerateFromPassword([]byte(cfg.PIN), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash pin: %w", err)
		}
		hash = h
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	perMin := cfg.MaxAttemptsPerMinute
	if perMin <= 0 {
		perMin = defaultPerMin
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.hash = hash
	g.ttl = ttl
	if perMin != g.perMin {
		g.perMin = perMin
		g.limiters = make(map[string]*ipLimiter)
	}
	return nil
}

// Enabled reports whether a PIN is required.
func (g *Gate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.hash) > 0
}

func (g *Gate) allow(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	l, ok := g.limiters[ip]
	if !ok {
		if len(g.limiters) >= limiterPrune {
			for k, v := range g.limiters {
				if now.Sub(v.seen) > limiterIdle {
					delete(g.limiters, k)
				}
			}
		}
		l = &ipLimiter{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(g.perMin)), g.perMin)}
		g.limiters[ip] = l
	}
	l.seen = now
	return l.lim.AllowN(now, 1)
}

// Login checks pin for the client at ip and issues a session token.
func (g *Gate) Login(ip, pin string) (string, time.Time, error) {
	ctx := context.Background()
	if !g.allow(ip) {
		g.metrics.RecordLogin(ctx, "rate_limited")
		g.log.Warn("login rate limited", "ip", ip)
		return "", time.Time{}, ErrRateLimited
	}

	g.mu.Lock()
	hash := g.hash
	ttl := g.ttl
	g.mu.Unlock()

	if len(hash) > 0 {
		if err := bcrypt.CompareHashAndPassword(hash, []byte(pin)); err != nil {
			g.metrics.RecordLogin(ctx, "bad_pin")
			g.log.Warn("login failed", "ip", ip)
			return "", time.Time{}, ErrBadPIN
		}
	}
	token, exp, err := IssueSessionJWT(g.secret, ip, ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	g.metrics.RecordLogin(ctx, "ok")
	g.log.Info("login ok", "ip", ip)
	return token, exp, nil
}

// Verify checks a session token. An open gate accepts anything.
func (g *Gate) Verify(token string) error {
	if !g.Enabled() {
		return nil
	}
	if token == "" {
		return ErrNoToken
	}
	_, err := ValidateSessionJWT(g.secret, token)
	return err
}

func requestToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// Middleware rejects requests without a valid session token.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Verify(requestToken(r)); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	PIN string `json:"pin"`
}

type loginResponse struct {
	Token     string `json:"token,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	Error     string `json:"error,omitempty"`
}

// LoginHandler accepts {"pin": "..."} (or a form field) and answers with a
// token, also set as a cookie.
func (g *Gate) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, loginResponse{Error: "bad request"})
			return
		}
	} else {
		req.PIN = r.FormValue("pin")
	}

	token, exp, err := g.Login(clientIP(r), req.PIN)
	switch {
	case errors.Is(err, ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, loginResponse{Error: "too many attempts"})
		return
	case errors.Is(err, ErrBadPIN):
		writeJSON(w, http.StatusUnauthorized, loginResponse{Error: "incorrect pin"})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, loginResponse{Error: "internal error"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: exp.Unix()})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HashPIN returns the bcrypt hash to put in pin_hash.
func HashPIN(pin string) (string, error) {
	if pin == "" {
		return "", errors.New("pin must not be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
