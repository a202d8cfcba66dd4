package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JaimeStill/arbiter/internal/infrastructure"
	"github.com/JaimeStill/arbiter/pkg/lifecycle"
)

type flag bool

func (f *flag) Ready() bool { return bool(*f) }

func TestProbes(t *testing.T) {
	lc := lifecycle.New()
	var db flag
	lc.Check("database", &db)

	router := buildRouter(&infrastructure.Infrastructure{Lifecycle: lc})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		return rec
	}

	if rec := get("/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthz: got %d, want 200", rec.Code)
	}

	lc.WaitForStartup()
	rec := get("/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before ready: got %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "database") {
		t.Errorf("readyz body should list pending checks: %s", rec.Body.String())
	}

	db = true
	if rec := get("/readyz"); rec.Code != http.StatusOK {
		t.Errorf("readyz after ready: got %d, want 200", rec.Code)
	}
}
