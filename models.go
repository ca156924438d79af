package policydash

import (
	"bytes"
	"encoding/json"
	"io"
)

// ID is an identifier the backend sends either as a JSON number or string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// TokenResponse is returned by login and registration.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// RegisterRequest is the body of a registration.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
}

// UserInfo is the profile returned by /me.
type UserInfo struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Document is an entry of the user's document list.
type Document struct {
	DocumentID int    `json:"document_id"`
	Title      string `json:"title"`
	SourceType string `json:"source_type"`
	CreatedAt  string `json:"created_at"`
}

// Analysis is the backend's analysis of one document. Its shape depends on
// the document and is passed through undecoded.
type Analysis map[string]any

// AnalyzeInput selects the document to analyse: a file upload or a URL.
type AnalyzeInput struct {
	FileName string
	File     io.Reader
	URL      string
}

// Answer is the response to a question about a document.
type Answer struct {
	Answer   string `json:"answer"`
	Citation string `json:"citation"`
}

// MergedAnalysis combines the analyses of several documents.
type MergedAnalysis struct {
	CombinedPros         []string `json:"combined_pros"`
	CombinedCons         []string `json:"combined_cons"`
	OverlappingIssues    []string `json:"overlapping_issues"`
	CombinedImprovements []string `json:"combined_improvements"`
}

// DashboardAnalytics feeds the analytics charts.
type DashboardAnalytics struct {
	Topics             []LabelCount     `json:"topics"`
	Sectors            []LabelCount     `json:"sectors"`
	ProsConsByCategory []ProsConsCount  `json:"pros_cons_by_category"`
	MonthlyDocuments   []LabelCount     `json:"monthly_documents"`
	FileTypes          []LabelCount     `json:"file_types"`
	Improvements       ImprovementCount `json:"improvements"`
	Sentiments         []LabelCount     `json:"sentiments"`
	Complexities       []LabelCount     `json:"complexities"`
}

// LabelCount is one bar of a chart. The backend names the label after the
// chart (topic, sector, month, type, ...); Label holds whichever is set.
type LabelCount struct {
	Label string
	Count int
}

func (lc *LabelCount) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if k == "count" {
			if err := json.Unmarshal(v, &lc.Count); err != nil {
				return err
			}
			continue
		}
		var s string
		if json.Unmarshal(v, &s) == nil {
			lc.Label = s
		}
	}
	return nil
}

// ProsConsCount compares pros and cons within a category.
type ProsConsCount struct {
	Category string `json:"category"`
	Pros     int    `json:"pros"`
	Cons     int    `json:"cons"`
}

// ImprovementCount splits documents by whether improvements were suggested.
type ImprovementCount struct {
	With    int `json:"with"`
	Without int `json:"without"`
}

// DocumentRow is a row of the document metadata table.
type DocumentRow struct {
	ID         ID     `json:"id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	UploadedBy string `json:"uploadedBy"`
	UploadDate string `json:"uploadDate"`
	SourceType string `json:"sourceType"`
	FileSize   int64  `json:"fileSize"`
}

// RuleRow is a row of the rule summary table.
type RuleRow struct {
	ID         ID     `json:"id"`
	Title      string `json:"title"`
	Topic      string `json:"topic"`
	Sector     string `json:"sector"`
	Complexity string `json:"complexity"`
	Sentiment  string `json:"sentiment"`
}

// ProConRow is a row of the pros/cons suggestion table.
type ProConRow struct {
	ID            ID       `json:"id"`
	DocumentTitle string   `json:"documentTitle"`
	Type          string   `json:"type"`
	Content       string   `json:"content"`
	Suggestions   []string `json:"suggestions"`
}

// Dashboard is everything the analytics page shows, loaded together.
type Dashboard struct {
	Analytics DashboardAnalytics
	Documents []DocumentRow
	Rules     []RuleRow
	ProCons   []ProConRow
}
