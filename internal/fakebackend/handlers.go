package fakebackend

import (
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (b *Backend) tokenFor(c echo.Context, email string) error {
	tok, err := b.IssueToken(email, TokenTTL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tokenResponse{AccessToken: tok, TokenType: "bearer"})
}

func (b *Backend) login(c echo.Context) error {
	email := c.FormValue("username")
	password := c.FormValue("password")

	b.mu.Lock()
	acc, ok := b.accounts[email]
	b.mu.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(acc.hash, []byte(password)) != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Incorrect email or password")
	}
	return b.tokenFor(c, email)
}

func (b *Backend) register(c echo.Context) error {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, []map[string]any{
			{"loc": []string{"body", "email"}, "msg": "field required", "type": "value_error.missing"},
		})
	}

	b.mu.Lock()
	_, exists := b.accounts[req.Email]
	b.mu.Unlock()
	if exists {
		return echo.NewHTTPError(http.StatusBadRequest, "User with this email already exists")
	}

	if err := b.AddUser(req.Email, req.Password, req.FirstName, req.LastName); err != nil {
		return err
	}
	return b.tokenFor(c, req.Email)
}

func (b *Backend) me(c echo.Context) error {
	email, _ := c.Get("email").(string)
	b.mu.Lock()
	acc := b.accounts[email]
	b.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]any{
		"email":      email,
		"first_name": acc.firstName,
		"last_name":  acc.lastName,
	})
}

func (b *Backend) documents(c echo.Context) error {
	return c.JSON(http.StatusOK, b.snapshot())
}

func (b *Backend) find(c echo.Context) (document, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return document{}, echo.NewHTTPError(http.StatusUnprocessableEntity, "document id must be an integer")
	}
	for _, d := range b.snapshot() {
		if d.ID == id {
			return d, nil
		}
	}
	return document{}, echo.NewHTTPError(http.StatusNotFound, "Document not found")
}

func (b *Backend) analysis(c echo.Context) error {
	d, err := b.find(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, analysisOf(d))
}

func analysisOf(d document) map[string]any {
	return map[string]any{
		"document_id": d.ID,
		"title":       d.Title,
		"summary":     d.Summary,
		"pros":        d.Pros,
		"cons":        d.Cons,
		"sector":      d.Sector,
		"topic":       d.Topic,
	}
}

func labelled(m map[string]int, label string) []map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, map[string]any{label: k, "count": m[k]})
	}
	return out
}

func (b *Backend) dashboard(c echo.Context) error {
	docs := b.snapshot()

	prosCons := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		prosCons = append(prosCons, map[string]any{"category": d.Sector, "pros": len(d.Pros), "cons": len(d.Cons)})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"topics":                labelled(counts(docs, func(d document) string { return d.Topic }), "topic"),
		"sectors":               labelled(counts(docs, func(d document) string { return d.Sector }), "sector"),
		"pros_cons_by_category": prosCons,
		"monthly_documents":     labelled(counts(docs, func(d document) string { return d.CreatedAt.Format("2006-01") }), "month"),
		"file_types":            labelled(counts(docs, func(d document) string { return d.SourceType }), "type"),
		"improvements":          map[string]int{"with": len(docs), "without": 0},
		"sentiments":            labelled(map[string]int{"neutral": len(docs)}, "sentiment"),
		"complexities":          labelled(map[string]int{"medium": len(docs)}, "complexity"),
	})
}

func (b *Backend) tableDocuments(c echo.Context) error {
	docs := b.snapshot()
	rows := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, map[string]any{
			"id":         d.ID,
			"title":      d.Title,
			"status":     "analyzed",
			"uploadedBy": d.UploadedBy,
			"uploadDate": d.CreatedAt.Format(time.DateOnly),
			"sourceType": d.SourceType,
			"fileSize":   d.FileSize,
		})
	}
	return c.JSON(http.StatusOK, rows)
}

func (b *Backend) tableRules(c echo.Context) error {
	docs := b.snapshot()
	rows := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, map[string]any{
			"id":         strconv.Itoa(d.ID),
			"title":      d.Title,
			"topic":      d.Topic,
			"sector":     d.Sector,
			"complexity": "medium",
			"sentiment":  "neutral",
		})
	}
	return c.JSON(http.StatusOK, rows)
}

func (b *Backend) tableProCons(c echo.Context) error {
	docs := b.snapshot()
	var rows []map[string]any
	for _, d := range docs {
		for i, p := range d.Pros {
			rows = append(rows, map[string]any{
				"id": d.ID*100 + i, "documentTitle": d.Title, "type": "pro", "content": p, "suggestions": []string{},
			})
		}
		for i, con := range d.Cons {
			rows = append(rows, map[string]any{
				"id": d.ID*100 + 50 + i, "documentTitle": d.Title, "type": "con", "content": con,
				"suggestions": []string{"Clarify " + strings.ToLower(con)},
			})
		}
	}
	return c.JSON(http.StatusOK, rows)
}

func (b *Backend) analyze(c echo.Context) error {
	email, _ := c.Get("email").(string)
	doc := document{UploadedBy: email, CreatedAt: time.Now().UTC(), Sector: "General", Topic: "General"}

	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return err
		}
		n, err := io.Copy(io.Discard, f)
		f.Close()
		if err != nil {
			return err
		}
		doc.Title, doc.SourceType, doc.FileSize = fh.Filename, "file", n
	} else if u := c.FormValue("url"); u != "" {
		doc.Title, doc.SourceType = u, "url"
	} else {
		return echo.NewHTTPError(http.StatusBadRequest, "Either a file or a url is required")
	}
	doc.Summary = "Automated summary of " + doc.Title + "."
	doc.Pros = []string{"Stated objectives"}
	doc.Cons = []string{"Missing enforcement detail"}

	b.mu.Lock()
	doc.ID = b.nextID
	b.nextID++
	b.docs = append(b.docs, doc)
	b.mu.Unlock()

	return c.JSON(http.StatusOK, analysisOf(doc))
}

func (b *Backend) ask(c echo.Context) error {
	var req struct {
		DocumentID int    `json:"document_id"`
		Question   string `json:"question"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	for _, d := range b.snapshot() {
		if d.ID == req.DocumentID {
			return c.JSON(http.StatusOK, map[string]string{
				"answer":   d.Summary,
				"citation": d.Title,
			})
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "Document not found")
}

func (b *Backend) merge(c echo.Context) error {
	var req struct {
		DocumentIDs []int `json:"document_ids"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.DocumentIDs) < 2 {
		return echo.NewHTTPError(http.StatusBadRequest, "At least two documents are required")
	}

	want := make(map[int]bool, len(req.DocumentIDs))
	for _, id := range req.DocumentIDs {
		want[id] = true
	}
	pros, cons := []string{}, []string{}
	seen := make(map[string]int)
	for _, d := range b.snapshot() {
		if !want[d.ID] {
			continue
		}
		pros = append(pros, d.Pros...)
		cons = append(cons, d.Cons...)
		for _, con := range d.Cons {
			seen[con]++
		}
	}
	overlap := []string{}
	for con, n := range seen {
		if n > 1 {
			overlap = append(overlap, con)
		}
	}
	sort.Strings(overlap)

	return c.JSON(http.StatusOK, map[string]any{
		"combined_pros":         pros,
		"combined_cons":         cons,
		"overlapping_issues":    overlap,
		"combined_improvements": []string{"Harmonise definitions across documents"},
	})
}
