package fakebackend

import "time"

type document struct {
	ID         int       `json:"document_id"`
	Title      string    `json:"title"`
	SourceType string    `json:"source_type"`
	FileSize   int64     `json:"file_size"`
	UploadedBy string    `json:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at"`
	Sector     string    `json:"sector"`
	Topic      string    `json:"topic"`
	Pros       []string  `json:"pros"`
	Cons       []string  `json:"cons"`
	Summary    string    `json:"summary"`
}

func (b *Backend) seed() {
	base := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	b.docs = []document{
		{
			ID: 1, Title: "Data Protection Act", SourceType: "file", FileSize: 48213,
			UploadedBy: "seed@example.com", CreatedAt: base, Sector: "Technology", Topic: "Privacy",
			Pros:    []string{"Clear consent rules"},
			Cons:    []string{"Vague retention limits"},
			Summary: "Regulates processing of personal data.",
		},
		{
			ID: 2, Title: "Green Energy Incentives", SourceType: "url", FileSize: 0,
			UploadedBy: "seed@example.com", CreatedAt: base.AddDate(0, 1, 0), Sector: "Energy", Topic: "Climate",
			Pros:    []string{"Tax credits for producers"},
			Cons:    []string{"No audit mechanism", "Short horizon"},
			Summary: "Subsidies for renewable generation.",
		},
	}
	b.nextID = 3
}

// snapshot copies the documents under the lock, newest first.
func (b *Backend) snapshot() []document {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]document, len(b.docs))
	for i := range b.docs {
		out[len(b.docs)-1-i] = b.docs[i]
	}
	return out
}

func counts(docs []document, key func(document) string) map[string]int {
	out := make(map[string]int)
	for _, d := range docs {
		out[key(d)]++
	}
	return out
}
