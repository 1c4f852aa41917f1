package docstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/eringen/draftdesk/document"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "docstore.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s, func() { s.Close() }
}

func saveN(t *testing.T, s *Store, owner string, n int) string {
	t.Helper()
	ctx := context.Background()
	id, err := s.Save(ctx, owner, Revision{Version: 1, Name: "Weekly", Project: `{"pages":[]}`})
	if err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	for v := 2; v <= n; v++ {
		if _, err := s.Save(ctx, owner, Revision{DocumentID: id, Version: v, Name: "Weekly", Project: `{"pages":[]}`}); err != nil {
			t.Fatalf("save v%d failed: %v", v, err)
		}
	}
	return id
}

func TestSaveAssignsIDAndVersions(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	id := saveN(t, s, "u1", 3)
	if id == "" {
		t.Fatal("id should not be empty")
	}
	revs, err := s.Revisions(context.Background(), "u1", id)
	if err != nil {
		t.Fatalf("Revisions failed: %v", err)
	}
	if len(revs) != 3 {
		t.Fatalf("revisions = %d, want 3", len(revs))
	}
	for i, rev := range revs {
		if rev.Version != 3-i {
			t.Errorf("revs[%d].Version = %d, want %d", i, rev.Version, 3-i)
		}
	}
}

func TestSaveVersionConflict(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	id := saveN(t, s, "u1", 2)

	tests := []struct {
		name string
		rev  Revision
	}{
		{"replay", Revision{DocumentID: id, Version: 2, Name: "W", Project: "{}"}},
		{"skip", Revision{DocumentID: id, Version: 4, Name: "W", Project: "{}"}},
		{"new at 2", Revision{Version: 2, Name: "W", Project: "{}"}},
	}
	for _, tt := range tests {
		if _, err := s.Save(ctx, "u1", tt.rev); !errors.Is(err, ErrVersionConflict) {
			t.Errorf("%s: err = %v, want ErrVersionConflict", tt.name, err)
		}
	}
	if _, err := s.Save(ctx, "u2", Revision{DocumentID: id, Version: 3, Name: "W", Project: "{}"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("other owner: err = %v, want ErrNotFound", err)
	}
}

func TestListOrderAndStatus(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) }

	a := saveN(t, s, "u1", 1)
	b := saveN(t, s, "u1", 1)
	if _, err := s.Save(ctx, "u1", Revision{DocumentID: a, Version: 2, Name: "A2", Project: "{}"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	list, err := s.List(ctx, "u1", document.Draft)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != a || list[1].ID != b {
		t.Fatalf("List = %+v, want a then b", list)
	}
	if list[0].Name != "A2" || list[0].Version != 2 {
		t.Errorf("list[0] = %+v, want A2 v2", list[0])
	}

	if err := s.SetStatus(ctx, "u1", b, document.Archive); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	archived, _ := s.List(ctx, "u1", document.Archive)
	if len(archived) != 1 || archived[0].ID != b {
		t.Errorf("Archive list = %+v, want b", archived)
	}
	if other, _ := s.List(ctx, "u2", document.Draft); len(other) != 0 {
		t.Errorf("u2 sees %d documents, want 0", len(other))
	}
}

func TestDeleteLatestPromotes(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	id := saveN(t, s, "u1", 3)

	if err := s.Delete(ctx, "u1", id, 3, false); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, v, err := s.Latest(ctx, "u1", id)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if v != 2 {
		t.Errorf("latest version = %d, want 2", v)
	}
	// The next save continues from the promoted revision.
	if _, err := s.Save(ctx, "u1", Revision{DocumentID: id, Version: 3, Name: "W", Project: "{}"}); err != nil {
		t.Errorf("Save after promotion failed: %v", err)
	}
}

func TestDeleteOlderVersionKeepsLatest(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	id := saveN(t, s, "u1", 3)

	if err := s.Delete(ctx, "u1", id, 1, false); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, v, _ := s.Latest(ctx, "u1", id)
	if v != 3 {
		t.Errorf("latest version = %d, want 3", v)
	}
	revs, _ := s.Revisions(ctx, "u1", id)
	if len(revs) != 2 {
		t.Errorf("revisions = %d, want 2", len(revs))
	}
}

func TestDeleteSoleAndAll(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	sole := saveN(t, s, "u1", 1)
	if err := s.Delete(ctx, "u1", sole, 1, false); err != nil {
		t.Fatalf("Delete sole failed: %v", err)
	}
	if _, _, err := s.Latest(ctx, "u1", sole); !errors.Is(err, ErrNotFound) {
		t.Errorf("sole document err = %v, want ErrNotFound", err)
	}

	many := saveN(t, s, "u1", 3)
	if err := s.Delete(ctx, "u1", many, 0, true); err != nil {
		t.Fatalf("Delete all failed: %v", err)
	}
	if _, err := s.Revisions(ctx, "u1", many); !errors.Is(err, ErrNotFound) {
		t.Errorf("Revisions err = %v, want ErrNotFound", err)
	}
}

func TestRenameUnknownDocument(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	if err := s.Rename(context.Background(), "u1", "nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUsersAndTokens(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	id, err := s.CreateUser(ctx, "Ada@Example.com", "s3cret")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if _, err := s.CreateUser(ctx, "ada@example.com", "other"); !errors.Is(err, ErrDuplicateUser) {
		t.Errorf("duplicate err = %v, want ErrDuplicateUser", err)
	}
	if _, err := s.Authenticate(ctx, "ada@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
	got, err := s.Authenticate(ctx, "ada@example.com", "s3cret")
	if err != nil || got != id {
		t.Fatalf("Authenticate = %q, %v; want %q", got, err, id)
	}

	token, err := s.IssueToken(ctx, id, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if u, err := s.ResolveToken(ctx, token); err != nil || u != id {
		t.Errorf("ResolveToken = %q, %v", u, err)
	}

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := s.ResolveToken(ctx, token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired token err = %v, want ErrTokenExpired", err)
	}
	if n, _ := s.PurgeTokens(ctx); n != 1 {
		t.Errorf("PurgeTokens = %d, want 1", n)
	}
	if _, err := s.ResolveToken(ctx, token); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("purged token err = %v, want ErrUnknownToken", err)
	}
}
