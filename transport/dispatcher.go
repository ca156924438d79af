// Package transport issues requests to the analysis backend. It injects the
// bearer token, normalizes failures into errors and handles session expiry.
// It performs no caching; the cache-aware layer wraps it.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Keksclan/policydash/session"
	"github.com/sirupsen/logrus"
)

// DefaultAuthPath is where a client is sent after its session expires.
const DefaultAuthPath = "/auth"

// RequestOptions describes one backend call. The exported, JSON-tagged
// fields identify the request and take part in cache key derivation; the
// remaining fields only tune error handling.
type RequestOptions struct {
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Query   map[string]string `json:"query,omitempty"`
	Body    []byte            `json:"body,omitempty"`

	// Anonymous suppresses the Authorization header.
	Anonymous bool `json:"-"`
	// KeepSessionOn401 treats a 401 as an ordinary HTTPError instead of a
	// session expiry (login rejects bad credentials with 401).
	KeepSessionOn401 bool `json:"-"`
	// FallbackMessage overrides the message used when the server supplies
	// no detail.
	FallbackMessage func(status int) string `json:"-"`
}

// Config configures a Dispatcher.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Session    session.Store
	Logger     logrus.FieldLogger

	// AuthPath is handed to OnSessionExpired. Defaults to DefaultAuthPath.
	AuthPath string
	// OnSessionExpired runs after a 401 has cleared the session, standing
	// in for a redirect to the sign-in entry point.
	OnSessionExpired func(authPath string)
}

// Dispatcher performs single backend requests.
type Dispatcher struct {
	base      string
	client    *http.Client
	session   session.Store
	logger    logrus.FieldLogger
	authPath  string
	onExpired func(string)
}

// New creates a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("transport: invalid base URL %q: %w", cfg.BaseURL, err)
	}
	d := &Dispatcher{
		base:      strings.TrimRight(cfg.BaseURL, "/"),
		client:    cfg.HTTPClient,
		session:   cfg.Session,
		logger:    cfg.Logger,
		authPath:  cfg.AuthPath,
		onExpired: cfg.OnSessionExpired,
	}
	if d.client == nil {
		d.client = http.DefaultClient
	}
	if d.session == nil {
		d.session = session.NewMemory()
	}
	if d.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		d.logger = l
	}
	if d.authPath == "" {
		d.authPath = DefaultAuthPath
	}
	return d, nil
}

// Session returns the credential store the dispatcher reads.
func (d *Dispatcher) Session() session.Store {
	return d.session
}

// Do sends the request and returns the raw JSON body of a 2xx response.
// Transport failures are returned unchanged.
func (d *Dispatcher) Do(ctx context.Context, endpoint string, opts RequestOptions) ([]byte, error) {
	req, err := d.newRequest(ctx, endpoint, opts)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, d.failure(endpoint, resp.StatusCode, body, opts)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return []byte("null"), nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("transport: %s: %w", endpoint, ErrInvalidResponse)
	}
	return body, nil
}

func (d *Dispatcher) newRequest(ctx context.Context, endpoint string, opts RequestOptions) (*http.Request, error) {
	u, err := url.Parse(d.base + endpoint)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid endpoint %q: %w", endpoint, err)
	}
	if len(opts.Query) > 0 {
		q := u.Query()
		for k, v := range opts.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if tok := d.session.Token(); tok != "" && !opts.Anonymous {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	// Caller headers win.
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (d *Dispatcher) failure(endpoint string, status int, body []byte, opts RequestOptions) error {
	if status == http.StatusUnauthorized && !opts.KeepSessionOn401 {
		d.session.Clear()
		d.logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"redirect": d.authPath,
		}).Warn("session expired, credentials cleared")
		if d.onExpired != nil {
			d.onExpired(d.authPath)
		}
		return ErrSessionExpired
	}

	msg := serverDetail(body)
	if msg == "" {
		if opts.FallbackMessage != nil {
			msg = opts.FallbackMessage(status)
		} else {
			msg = StatusMessage(status)
		}
	}
	d.logger.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"status":   status,
	}).Debug("request failed")
	return &HTTPError{StatusCode: status, Message: msg}
}
