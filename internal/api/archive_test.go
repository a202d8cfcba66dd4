package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"testing"

	"github.com/JaimeStill/arbiter/internal/auth"
	"github.com/JaimeStill/arbiter/pkg/lifecycle"
	"github.com/JaimeStill/arbiter/pkg/routes"
	"github.com/JaimeStill/arbiter/pkg/storage"
	"github.com/JaimeStill/arbiter/workflow"
)

type memoryStore struct {
	blobs map[string]string
}

func (s *memoryStore) Start(*lifecycle.Coordinator) error { return nil }
func (s *memoryStore) Ready() bool                        { return true }
func (s *memoryStore) Key(parts ...string) string         { return path.Join(append([]string{"audit"}, parts...)...) }

func (s *memoryStore) Upload(_ context.Context, key string, r io.Reader, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.blobs[key] = string(data)
	return nil
}

func (s *memoryStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	if strings.Contains(key, "..") {
		return nil, storage.ErrInvalidKey
	}
	data, ok := s.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func (s *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := s.blobs[key]
	return ok, nil
}

func TestArchiveDownload(t *testing.T) {
	store := &memoryStore{blobs: map[string]string{
		"audit/2026/10/01/rec.json": `{"action":"approve"}`,
	}}

	mux := http.NewServeMux()
	routes.Register(mux, newArchiveHandler(store, slog.New(slog.DiscardHandler)).routes())

	admin := workflow.Caller{UserID: "admin-1", Roles: workflow.Roles{workflow.RoleAdmin}}
	user := workflow.Caller{UserID: "user-1", Roles: workflow.Roles{workflow.RoleUser}}

	tests := []struct {
		name   string
		path   string
		caller *workflow.Caller
		want   int
	}{
		{"found", "/audit/archive/2026/10/01/rec.json", &admin, http.StatusOK},
		{"missing", "/audit/archive/2026/10/02/rec.json", &admin, http.StatusNotFound},
		{"not admin", "/audit/archive/2026/10/01/rec.json", &user, http.StatusForbidden},
		{"anonymous", "/audit/archive/2026/10/01/rec.json", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.caller != nil {
				req = req.WithContext(auth.WithCaller(req.Context(), *tt.caller))
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status: got %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK {
				if got := rec.Body.String(); got != `{"action":"approve"}` {
					t.Errorf("body: got %s", got)
				}
				if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "rec.json") {
					t.Errorf("content disposition: got %s", cd)
				}
			}
		})
	}
}

func TestArchiveStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{storage.ErrNotFound, http.StatusNotFound},
		{storage.ErrInvalidKey, http.StatusBadRequest},
		{storage.ErrEmptyKey, http.StatusBadRequest},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := archiveStatus(tt.err); got != tt.want {
			t.Errorf("archiveStatus(%v): got %d, want %d", tt.err, got, tt.want)
		}
	}
}
