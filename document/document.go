// Package document holds the newsletter types shared by the desk, its
// session cache and the document service.
package document

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the publication category of a document.
type Status string

const (
	Draft     Status = "Draft"
	Published Status = "Published"
	Archive   Status = "Archive"
)

// Statuses lists every category in display order.
var Statuses = []Status{Draft, Published, Archive}

// ParseStatus accepts any casing of a known status.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("document: unknown status %q", s)
}

// Valid reports whether s is one of the three categories.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Index returns the position of s in Statuses, or -1.
func (s Status) Index() int {
	for i, st := range Statuses {
		if st == s {
			return i
		}
	}
	return -1
}

// Slug is the lowercase path segment used by the desk's list routes.
func (s Status) Slug() string {
	switch s {
	case Draft:
		return "drafts"
	case Published:
		return "published"
	case Archive:
		return "archive"
	}
	return ""
}

// Document is a named, versioned authoring artifact.
type Document struct {
	ID        string
	Name      string
	Version   int
	Status    Status
	Snapshot  Snapshot
	CreatedAt time.Time
	EditedAt  time.Time
}

// Snapshot is the editor state of one revision: the structured authoring
// tree plus the markup rendered from it.
type Snapshot struct {
	Project json.RawMessage
	Markup  string
}

// Summary is one row of a status listing.
type Summary struct {
	ID        string    `json:"file_id"`
	Name      string    `json:"file_name"`
	Version   int       `json:"version"`
	Status    Status    `json:"project_status"`
	Thumbnail string    `json:"thumbnail_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	EditedAt  time.Time `json:"edited_at"`
}

// LastEdited falls back to the creation time for never-edited rows.
func (s Summary) LastEdited() time.Time {
	if s.EditedAt.IsZero() {
		return s.CreatedAt
	}
	return s.EditedAt
}

// Revision is one stored version of a document.
type Revision struct {
	ID        string          `json:"file_id"`
	Name      string          `json:"file_name"`
	Version   int             `json:"version"`
	Project   json.RawMessage `json:"project_data"`
	Markup    string          `json:"html,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// StarterPageName names the single page of a project built from raw markup.
const StarterPageName = "Edit Template"

type projectPage struct {
	Name      string `json:"name"`
	Component string `json:"component"`
}

type project struct {
	Pages []projectPage `json:"pages"`
}

// StarterProject wraps raw markup as a one-page authoring project.
func StarterProject(markup string) json.RawMessage {
	b, err := json.Marshal(project{Pages: []projectPage{{Name: StarterPageName, Component: markup}}})
	if err != nil {
		return json.RawMessage(`{"pages":[]}`)
	}
	return b
}

// CoherentProject reports whether raw is a non-empty JSON object.
func CoherentProject(raw []byte) bool {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || !strings.HasPrefix(s, "{") {
		return false
	}
	return json.Valid(raw)
}

// Triple holds one staleness bit per status, indexed like Statuses.
type Triple [3]bool

// TripleOf returns a triple with the bits of every listed status set.
func TripleOf(statuses ...Status) Triple {
	var t Triple
	for _, st := range statuses {
		t = t.Set(st)
	}
	return t
}

// Set returns t with the bit of st set. Unknown statuses are ignored.
func (t Triple) Set(st Status) Triple {
	if i := st.Index(); i >= 0 {
		t[i] = true
	}
	return t
}

// Has reports the bit of st.
func (t Triple) Has(st Status) bool {
	i := st.Index()
	return i >= 0 && t[i]
}

// Or combines two triples bitwise.
func (t Triple) Or(o Triple) Triple {
	for i := range t {
		t[i] = t[i] || o[i]
	}
	return t
}

// Any reports whether any bit is set.
func (t Triple) Any() bool {
	return t[0] || t[1] || t[2]
}
