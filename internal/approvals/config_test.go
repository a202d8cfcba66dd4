package approvals_test

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/arbiter/internal/approvals"
	"github.com/JaimeStill/arbiter/workflow"
)

var testEnv = &approvals.Env{
	MaxBatchSize: "TEST_APPROVALS_MAX_BATCH",
	RelatedLimit: "TEST_APPROVALS_RELATED",
	SummaryTTL:   "TEST_APPROVALS_SUMMARY_TTL",
}

func TestConfigDefaults(t *testing.T) {
	cfg := &approvals.Config{}
	require.NoError(t, cfg.Finalize(nil))

	assert.Equal(t, workflow.DefaultRules(), cfg.Rules)
	assert.Equal(t, 100, cfg.MaxBatchSize)
	assert.Equal(t, 5, cfg.RelatedLimit)
	assert.Equal(t, 5*time.Second, cfg.SummaryTTLDuration())
}

func TestConfigEnv(t *testing.T) {
	t.Setenv("TEST_APPROVALS_MAX_BATCH", "25")
	t.Setenv("TEST_APPROVALS_RELATED", "3")
	t.Setenv("TEST_APPROVALS_SUMMARY_TTL", "0s")

	cfg := &approvals.Config{}
	require.NoError(t, cfg.Finalize(testEnv))

	assert.Equal(t, 25, cfg.MaxBatchSize)
	assert.Equal(t, 3, cfg.RelatedLimit)
	assert.Zero(t, cfg.SummaryTTLDuration())
}

func TestConfigMergeReplacesRules(t *testing.T) {
	base := &approvals.Config{}
	require.NoError(t, base.Finalize(nil))

	custom := []workflow.Rule{
		{From: workflow.StatusPending, To: workflow.StatusApproved, Roles: workflow.Roles{workflow.RoleAdmin}},
	}
	base.Merge(&approvals.Config{Rules: custom, MaxBatchSize: 10})

	assert.Equal(t, custom, base.Rules)
	assert.Equal(t, 10, base.MaxBatchSize)
	assert.Equal(t, 5, base.RelatedLimit)

	base.Merge(&approvals.Config{})
	assert.Equal(t, custom, base.Rules)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  approvals.Config
	}{
		{"negative batch", approvals.Config{MaxBatchSize: -1}},
		{"negative related", approvals.Config{RelatedLimit: -2}},
		{"bad ttl", approvals.Config{SummaryTTL: "soon"}},
		{"negative ttl", approvals.Config{SummaryTTL: "-1s"}},
		{"self transition", approvals.Config{Rules: []workflow.Rule{
			{From: workflow.StatusPending, To: workflow.StatusPending, Roles: workflow.Roles{workflow.RoleAdmin}},
		}}},
		{"rule without roles", approvals.Config{Rules: []workflow.Rule{
			{From: workflow.StatusPending, To: workflow.StatusApproved},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			assert.Error(t, cfg.Finalize(nil))
		})
	}
}

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&approvals.Error{Kind: approvals.ErrNotFound, Reason: "Fact not found"}, http.StatusNotFound},
		{&approvals.Error{Kind: approvals.ErrForbidden}, http.StatusForbidden},
		{&approvals.Error{Kind: approvals.ErrInvalidRequest}, http.StatusBadRequest},
		{&approvals.Error{Kind: approvals.ErrConflict}, http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, approvals.MapHTTPStatus(tt.err), tt.err)
	}
}
