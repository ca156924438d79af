package policydash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Keksclan/policydash/session"
	"golang.org/x/sync/errgroup"
)

// Cache lifetimes of the read endpoints.
const (
	DocumentsTTL = 2 * time.Minute
	AnalysisTTL  = 5 * time.Minute
	MeTTL        = 10 * time.Minute
	DashboardTTL = 5 * time.Minute
	TablesTTL    = 5 * time.Minute
)

var (
	// ErrNoToken is returned by calls that need a session before any
	// request is sent.
	ErrNoToken = errors.New("no authentication token found, please log in first")

	// ErrNoDocument is returned by AnalyzeDocument when neither a file nor
	// a URL is given.
	ErrNoDocument = errors.New("analyze needs a file or a URL")
)

// Login exchanges credentials for an access token and stores it in the
// session. A 401 here means bad credentials and leaves the session alone.
func (c *Client) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	tok, err := send[TokenResponse](ctx, c, "/token", RequestOptions{
		Method:           http.MethodPost,
		Headers:          map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:             []byte(form.Encode()),
		Anonymous:        true,
		KeepSessionOn401: true,
		FallbackMessage:  func(int) string { return "Login failed" },
	})
	if err != nil {
		return nil, err
	}
	c.Session().Save(tok.AccessToken, session.User{Email: email})
	return &tok, nil
}

// Register creates an account and stores the returned token.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*TokenResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	tok, err := send[TokenResponse](ctx, c, "/register", RequestOptions{
		Method: http.MethodPost,
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	c.Session().Save(tok.AccessToken, session.User{
		Email: req.Email,
		Name:  strings.TrimSpace(req.FirstName + " " + req.LastName),
	})
	return &tok, nil
}

// Logout clears the session and every cached response, which belonged to
// the signed-in user.
func (c *Client) Logout(ctx context.Context) error {
	c.Session().Clear()
	return c.ClearCache(ctx, "")
}

// AnalyzeDocument uploads a document, or submits its URL, for analysis.
// On success the dashboard cache family is invalidated so the next read
// includes the new document.
func (c *Client) AnalyzeDocument(ctx context.Context, in AnalyzeInput) (Analysis, error) {
	if c.Session().Token() == "" {
		return nil, ErrNoToken
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	switch {
	case in.File != nil:
		name := in.FileName
		if name == "" {
			name = "document"
		}
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(fw, in.File); err != nil {
			return nil, fmt.Errorf("policydash: read %s: %w", name, err)
		}
	case in.URL != "":
		if err := mw.WriteField("url", in.URL); err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoDocument
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	res, err := send[Analysis](ctx, c, "/analyze", RequestOptions{
		Method:  http.MethodPost,
		Headers: map[string]string{"Content-Type": mw.FormDataContentType()},
		Body:    buf.Bytes(),
		FallbackMessage: func(status int) string {
			return "Document analysis failed: " + strconv.Itoa(status)
		},
	})
	if err != nil {
		return nil, err
	}

	if err := c.ClearCache(ctx, DashboardFamily); err != nil {
		c.logger.WithError(err).Warn("dashboard cache not invalidated after analysis")
	}
	return res, nil
}

// AskQuestion asks a question about an analysed document.
func (c *Client) AskQuestion(ctx context.Context, documentID int, question string) (*Answer, error) {
	body, err := json.Marshal(map[string]any{
		"document_id": documentID,
		"question":    question,
	})
	if err != nil {
		return nil, err
	}
	ans, err := send[Answer](ctx, c, "/ask", RequestOptions{Method: http.MethodPost, Body: body})
	if err != nil {
		return nil, err
	}
	return &ans, nil
}

// MergeAnalysis combines the analyses of several documents.
func (c *Client) MergeAnalysis(ctx context.Context, documentIDs []int) (*MergedAnalysis, error) {
	body, err := json.Marshal(map[string]any{"document_ids": documentIDs})
	if err != nil {
		return nil, err
	}
	m, err := send[MergedAnalysis](ctx, c, "/merge-analysis", RequestOptions{Method: http.MethodPost, Body: body})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Documents lists the user's documents, newest first.
func (c *Client) Documents(ctx context.Context) ([]Document, error) {
	return Fetch[[]Document](ctx, c, "/documents", RequestOptions{}, DocumentsTTL)
}

// Analysis returns the stored analysis of one document.
func (c *Client) Analysis(ctx context.Context, documentID int) (Analysis, error) {
	return Fetch[Analysis](ctx, c, "/analysis/"+strconv.Itoa(documentID), RequestOptions{}, AnalysisTTL)
}

// CurrentUser returns the signed-in user's profile.
func (c *Client) CurrentUser(ctx context.Context) (*UserInfo, error) {
	u, err := Fetch[UserInfo](ctx, c, "/me", RequestOptions{}, MeTTL)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// DashboardAnalytics returns the data behind the analytics charts.
func (c *Client) DashboardAnalytics(ctx context.Context) (*DashboardAnalytics, error) {
	a, err := Fetch[DashboardAnalytics](ctx, c, "/analytics/dashboard", RequestOptions{}, DashboardTTL)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// RefreshDashboard drops the cached dashboard family and fetches fresh
// analytics.
func (c *Client) RefreshDashboard(ctx context.Context) (*DashboardAnalytics, error) {
	if err := c.ClearCache(ctx, DashboardFamily); err != nil {
		return nil, err
	}
	return c.DashboardAnalytics(ctx)
}

// TableDocuments returns the document metadata table.
func (c *Client) TableDocuments(ctx context.Context) ([]DocumentRow, error) {
	return Fetch[[]DocumentRow](ctx, c, "/tables/documents", RequestOptions{}, TablesTTL)
}

// TableRules returns the rule summary table.
func (c *Client) TableRules(ctx context.Context) ([]RuleRow, error) {
	return Fetch[[]RuleRow](ctx, c, "/tables/rules", RequestOptions{}, TablesTTL)
}

// TableProCons returns the pros/cons suggestion table.
func (c *Client) TableProCons(ctx context.Context) ([]ProConRow, error) {
	return Fetch[[]ProConRow](ctx, c, "/tables/procons", RequestOptions{}, TablesTTL)
}

// LoadDashboard fetches the analytics and the three tables concurrently.
// The first failure is returned; the other loads still populate the cache.
func (c *Client) LoadDashboard(ctx context.Context) (*Dashboard, error) {
	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a, err := c.DashboardAnalytics(gctx)
		if err != nil {
			return fmt.Errorf("analytics: %w", err)
		}
		d.Analytics = *a
		return nil
	})
	g.Go(func() error {
		rows, err := c.TableDocuments(gctx)
		if err != nil {
			return fmt.Errorf("documents table: %w", err)
		}
		d.Documents = rows
		return nil
	})
	g.Go(func() error {
		rows, err := c.TableRules(gctx)
		if err != nil {
			return fmt.Errorf("rules table: %w", err)
		}
		d.Rules = rows
		return nil
	})
	g.Go(func() error {
		rows, err := c.TableProCons(gctx)
		if err != nil {
			return fmt.Errorf("pros/cons table: %w", err)
		}
		d.ProCons = rows
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &d, nil
}
