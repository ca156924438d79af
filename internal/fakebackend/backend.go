// Package fakebackend is an in-process stand-in for the policy analysis API,
// used by tests and the CLI's demo mode. It speaks the same routes and error
// shape as the real backend and counts every request it receives so callers
// can assert how often the network was hit.
package fakebackend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// TokenTTL is the lifetime of issued access tokens.
const TokenTTL = time.Hour

type account struct {
	hash      []byte
	firstName string
	lastName  string
}

// claims carried by issued access tokens.
type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Backend is a fake analysis API. All methods are safe for concurrent use.
type Backend struct {
	echo   *echo.Echo
	logger *logrus.Logger

	mu       sync.Mutex
	secret   []byte
	accounts map[string]account
	docs     []document
	nextID   int
	hits     map[string]int
	failures map[string][]int
	gates    map[string]chan struct{}
}

// New creates a Backend seeded with two analysed documents. A nil logger
// discards request logs.
func New(logger *logrus.Logger) *Backend {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	b := &Backend{
		echo:     echo.New(),
		logger:   logger,
		secret:   []byte("fakebackend-secret"),
		accounts: make(map[string]account),
		hits:     make(map[string]int),
		failures: make(map[string][]int),
		gates:    make(map[string]chan struct{}),
	}
	b.seed()
	b.routes()
	return b
}

// ServeHTTP makes the Backend an http.Handler.
func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.echo.ServeHTTP(w, r)
}

// AddUser registers an account directly, bypassing /register.
func (b *Backend) AddUser(email, password, firstName, lastName string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[email] = account{hash: hash, firstName: firstName, lastName: lastName}
	return nil
}

// IssueToken signs an access token for email that expires after ttl.
func (b *Backend) IssueToken(email string, ttl time.Duration) (string, error) {
	b.mu.Lock()
	secret := b.secret
	b.mu.Unlock()

	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	return tok.SignedString(secret)
}

// RevokeTokens rotates the signing key, so every token issued so far is
// rejected with 401.
func (b *Backend) RevokeTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.secret = []byte(fmt.Sprintf("fakebackend-secret-%d", time.Now().UnixNano()))
}

// Hits returns how many requests reached path.
func (b *Backend) Hits(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

// FailNext makes the next request to path answer with status. Repeated
// calls queue further failures.
func (b *Backend) FailNext(path string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[path] = append(b.failures[path], status)
}

// Block holds every request to path until the returned release func is
// called. Requests are counted before they block.
func (b *Backend) Block(path string) (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.gates[path] = gate
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.gates, path)
			b.mu.Unlock()
			close(gate)
		})
	}
}

func (b *Backend) routes() {
	e := b.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = b.errorHandler
	e.Use(b.count, b.injectFailures)

	e.POST("/token", b.login)
	e.POST("/register", b.register)

	e.GET("/me", b.me, b.requireJWT)
	e.GET("/documents", b.documents, b.requireJWT)
	e.GET("/analysis/:id", b.analysis, b.requireJWT)
	e.GET("/analytics/dashboard", b.dashboard, b.requireJWT)
	e.GET("/tables/documents", b.tableDocuments, b.requireJWT)
	e.GET("/tables/rules", b.tableRules, b.requireJWT)
	e.GET("/tables/procons", b.tableProCons, b.requireJWT)
	e.POST("/analyze", b.analyze, b.requireJWT)
	e.POST("/ask", b.ask, b.requireJWT)
	e.POST("/merge-analysis", b.merge, b.requireJWT)
}

// errorHandler renders errors the way the real API does: {"detail": "..."}.
func (b *Backend) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var detail any = "Internal Server Error"

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		detail = he.Message
	}
	if c.Response().Committed {
		return
	}
	b.logger.WithFields(logrus.Fields{
		"path":   c.Request().URL.Path,
		"status": code,
	}).Debug("request failed")

	if detail == nil {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]any{"detail": detail})
}

// count records the hit and then waits on the path's gate, if any.
func (b *Backend) count(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		path := c.Request().URL.Path
		b.mu.Lock()
		b.hits[path]++
		gate := b.gates[path]
		b.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-c.Request().Context().Done():
				return c.Request().Context().Err()
			}
		}
		return next(c)
	}
}

func (b *Backend) injectFailures(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		path := c.Request().URL.Path
		b.mu.Lock()
		queued := b.failures[path]
		var status int
		if len(queued) > 0 {
			status = queued[0]
			b.failures[path] = queued[1:]
		}
		b.mu.Unlock()

		if status != 0 {
			if status == http.StatusBadGateway {
				// Mimic a proxy in front of the API: no JSON detail.
				return c.String(status, "Bad Gateway")
			}
			return echo.NewHTTPError(status, http.StatusText(status))
		}
		return next(c)
	}
}

func (b *Backend) requireJWT(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		if !ok || raw == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
		}

		b.mu.Lock()
		secret := b.secret
		b.mu.Unlock()

		var cl claims
		_, err := jwt.ParseWithClaims(raw, &cl, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return secret, nil
		})
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Could not validate credentials")
		}
		c.Set("email", cl.Email)
		return next(c)
	}
}
