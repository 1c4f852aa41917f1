package document

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input   string
		want    Status
		wantErr bool
	}{
		{"Draft", Draft, false},
		{"published", Published, false},
		{" ARCHIVE ", Archive, false},
		{"deleted", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStatus(%q) err = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseStatus(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestStatusIndexAndSlug(t *testing.T) {
	for i, st := range Statuses {
		if st.Index() != i {
			t.Errorf("%s.Index() = %d, want %d", st, st.Index(), i)
		}
		if st.Slug() == "" {
			t.Errorf("%s.Slug() is empty", st)
		}
	}
	if Status("nope").Index() != -1 {
		t.Error("unknown status should have index -1")
	}
}

func TestStarterProject(t *testing.T) {
	raw := StarterProject("<h1>Hi</h1>")
	var p project
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal starter: %v", err)
	}
	if len(p.Pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(p.Pages))
	}
	if p.Pages[0].Name != StarterPageName {
		t.Errorf("name = %q, want %q", p.Pages[0].Name, StarterPageName)
	}
	if p.Pages[0].Component != "<h1>Hi</h1>" {
		t.Errorf("component = %q", p.Pages[0].Component)
	}
}

func TestCoherentProject(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{`{"pages":[]}`, true},
		{``, false},
		{`null`, false},
		{`[1,2]`, false},
		{`{"pages":`, false},
	}
	for _, tt := range tests {
		if got := CoherentProject([]byte(tt.input)); got != tt.want {
			t.Errorf("CoherentProject(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestSummaryLastEdited(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Summary{CreatedAt: created}
	if !s.LastEdited().Equal(created) {
		t.Errorf("LastEdited = %v, want %v", s.LastEdited(), created)
	}
	edited := created.Add(time.Hour)
	s.EditedAt = edited
	if !s.LastEdited().Equal(edited) {
		t.Errorf("LastEdited = %v, want %v", s.LastEdited(), edited)
	}
}

func TestTriple(t *testing.T) {
	tr := TripleOf(Draft, Archive)
	if !tr.Has(Draft) || tr.Has(Published) || !tr.Has(Archive) {
		t.Errorf("TripleOf(Draft, Archive) = %v", tr)
	}
	if got := tr.Or(TripleOf(Published)); got != (Triple{true, true, true}) {
		t.Errorf("Or = %v, want all set", got)
	}
	if (Triple{}).Any() {
		t.Error("zero triple should report no bits")
	}
	if got := (Triple{}).Set("Deleted"); got.Any() {
		t.Errorf("Set(unknown) = %v, want zero", got)
	}
}
