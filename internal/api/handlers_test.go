package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/maroonops/signal-console/internal/auth"
	"github.com/maroonops/signal-console/internal/cache"
	"github.com/maroonops/signal-console/internal/config"
	"github.com/maroonops/signal-console/internal/policy"
	"github.com/maroonops/signal-console/internal/provider"
	"github.com/maroonops/signal-console/internal/store"
	"github.com/maroonops/signal-console/internal/vector"
	"github.com/maroonops/signal-console/internal/warehouse"
)

type tokenVerifier struct {
	byToken map[string]*auth.Claims
}

func (v *tokenVerifier) VerifyIDToken(_ context.Context, token string) (*auth.Claims, error) {
	if claims, ok := v.byToken[token]; ok {
		return claims, nil
	}
	return nil, errors.New("unknown token")
}

type stubGenerator struct {
	name    string
	text    string
	err     error
	calls   int
	lastReq provider.GenerateRequest
}

func (s *stubGenerator) Name() string { return s.name }

func (s *stubGenerator) Generate(_ context.Context, req provider.GenerateRequest) (*provider.GenerateResult, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &provider.GenerateResult{Text: s.text, Model: req.Model}, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) (*provider.EmbedResult, error) {
	v := []float32{float32(len(text)), 1, 0}
	return &provider.EmbedResult{Embedding: v, Model: "stub-embed"}, nil
}

type stubRunner struct {
	rows    []map[string]any
	err     error
	lastSQL string
}

func (s *stubRunner) RunQuery(_ context.Context, sql string, _ map[string]any) (*warehouse.Result, error) {
	s.lastSQL = sql
	if s.err != nil {
		return nil, s.err
	}
	return &warehouse.Result{Rows: s.rows, JobID: "job-1"}, nil
}

type testEnv struct {
	handler       http.Handler
	handlerStruct *Handler
	store         *store.MemoryStore
	runner        *stubRunner
	generator     *stubGenerator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		AuthRequired:         true,
		RequireEmailVerified: true,
		DefaultRole:          "engineer",
		RoleBootstrapKey:     "bootstrap-secret",
		PrimaryProvider:      "claude",
		ClaudeModel:          "claude-3-5-sonnet-20241022",
		GeminiModel:          "gemini-2.5-flash",
		DeepSeekModel:        "deepseek-chat",
		BigQueryDataset:      "maroon_ops",
		BigQueryLocation:     "US",
		MaxBytesBilled:       500000000,
		StoreDriver:          "memory",
	}
	pol := policy.New([]string{
		"executive_data_plane_overview",
		"maroon_counsel_ip_queue",
		"maroon_redteam_gap_register",
		"maroon_execution_tickets",
	}, cfg.DefaultRole)

	verifier := &tokenVerifier{byToken: map[string]*auth.Claims{
		"founder-token": {
			UID: "founder-1", Email: "ceo@maroon.dev", EmailVerified: true,
			Custom: map[string]any{policy.ClaimRole: "founder"},
		},
		"counsel-token": {
			UID: "counsel-1", Email: "counsel@maroon.dev", EmailVerified: true,
			Custom: map[string]any{policy.ClaimRole: "counsel"},
		},
		"engineer-token": {
			UID: "eng-1", Email: "eng@maroon.dev", EmailVerified: true,
		},
	}}
	log := zap.NewNop()
	resolver := auth.NewResolver(cfg, verifier, log)

	compiler, err := warehouse.NewCompiler("maroon-ops-prod", cfg.BigQueryDataset, pol)
	require.NoError(t, err)
	runner := &stubRunner{rows: []map[string]any{{"queue_status": "open"}}}

	gen := &stubGenerator{name: provider.NameClaude, text: "generated answer"}
	router := provider.NewRouter(cfg.PrimaryProvider, gen)
	embedder := provider.NewEmbedChain(stubEmbedder{})

	st := store.NewMemoryStore()
	hs := NewHandler(HandlerDeps{
		Config:   cfg,
		Log:      log,
		Resolver: resolver,
		Policy:   pol,
		Compiler: compiler,
		Runner:   runner,
		Snapshot: warehouse.NewSnapshotService(compiler, runner),
		Router:   router,
		Embedder: embedder,
		Cache:    cache.NewService(st, log),
		Memory:   vector.NewMemory(st, embedder, log),
		Store:    st,
	})
	return &testEnv{
		handler:       NewRouter(hs),
		handlerStruct: hs,
		store:         st,
		runner:        runner,
		generator:     gen,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	return rec, decoded
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "signal-console", body["service"])
}

func TestGateRejectsAnonymous(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodPost, "/api/warehouse/read", "", map[string]any{"table": "executive_data_plane_overview"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "auth_required", body["error"])
}

func TestGateRejectsUnknownToken(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodPost, "/api/warehouse/read", "garbage", map[string]any{"table": "executive_data_plane_overview"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "auth_invalid", body["error"])
}

func TestWarehouseRead(t *testing.T) {
	env := newTestEnv(t)

	t.Run("counsel reads the counsel queue", func(t *testing.T) {
		rec, body := env.do(t, http.MethodPost, "/api/warehouse/read", "counsel-token", map[string]any{
			"table":   "maroon_counsel_ip_queue",
			"filters": []map[string]any{{"field": "queue_status", "op": "eq", "value": "open"}},
			"limit":   25,
		})
		require.Equal(t, http.StatusOK, rec.Code, body)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, float64(1), body["row_count"])
		assert.Equal(t, "job-1", body["job_id"])
		assert.Contains(t, env.runner.lastSQL, "LIMIT @limit")
		assert.NotContains(t, env.runner.lastSQL, "open")
	})

	t.Run("counsel denied the redteam register", func(t *testing.T) {
		rec, body := env.do(t, http.MethodPost, "/api/warehouse/read", "counsel-token", map[string]any{
			"table": "maroon_redteam_gap_register",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "role_forbidden", body["error"])
		assert.Contains(t, body["allowed_tables"], "maroon_counsel_ip_queue")
	})

	t.Run("injection rejected", func(t *testing.T) {
		rec, body := env.do(t, http.MethodPost, "/api/warehouse/read", "founder-token", map[string]any{
			"table": "users; DROP TABLE x",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_identifier", body["error"])
	})
}

func TestModelGenerateWithCache(t *testing.T) {
	env := newTestEnv(t)
	payload := map[string]any{"provider": "claude", "prompt": "what is open?"}

	rec, body := env.do(t, http.MethodPost, "/api/model/generate", "engineer-token", payload)
	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.Equal(t, false, body["cached"])
	assert.Equal(t, "generated answer", body["text"])
	assert.Equal(t, 1, env.generator.calls)

	rec, body = env.do(t, http.MethodPost, "/api/model/generate", "engineer-token", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["cached"])
	assert.Equal(t, "generated answer", body["text"])
	assert.Equal(t, 1, env.generator.calls, "cache hit skips the provider")

	rec, body = env.do(t, http.MethodPost, "/api/model/generate", "engineer-token", map[string]any{
		"provider": "claude", "prompt": "what is open?", "bypass_cache": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["cached"])
	assert.Equal(t, 2, env.generator.calls)
}

func TestModelGenerateValidation(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/model/generate", "engineer-token", map[string]any{"prompt": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", body["error"])
}

func TestModelGenerateRedaction(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/model/generate", "engineer-token", map[string]any{
		"prompt": "ssn 123-45-6789 please",
		"system": "reply to a@b.io only",
		"redact": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ssn [REDACTED_SSN] please", env.generator.lastReq.Prompt)
	assert.Equal(t, "reply to [REDACTED_EMAIL] only", env.generator.lastReq.System)
}

func TestModelGenerateProviderFailure(t *testing.T) {
	env := newTestEnv(t)
	env.generator.err = &provider.Error{Provider: "claude", Code: "provider_http_error", Status: 429, Detail: "slow down"}

	rec, body := env.do(t, http.MethodPost, "/api/model/generate", "engineer-token", map[string]any{"prompt": "p"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "provider_http_error", body["error"])
}

func TestAssistantQueryThreads(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/assistant/query", "engineer-token", map[string]any{
		"question": "status of tickets?",
	})
	require.Equal(t, http.StatusOK, rec.Code, body)
	threadID, _ := body["thread_id"].(string)
	require.NotEmpty(t, threadID)
	assert.Equal(t, float64(0), body["memory_used"])

	// The exchange is persisted: a follow-up on the same thread sees it.
	rec, body = env.do(t, http.MethodPost, "/api/assistant/query", "engineer-token", map[string]any{
		"question":  "and blockers?",
		"thread_id": threadID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, threadID, body["thread_id"])
	assert.Equal(t, float64(2), body["memory_used"])

	msgs, err := env.store.RecentMessages(context.Background(), threadID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
}

func TestAssistantQueryContextIsRoleGated(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/assistant/query", "counsel-token", map[string]any{
		"question": "any red team gaps?",
		"context":  map[string]any{"table": "maroon_redteam_gap_register", "limit": 5},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "role_forbidden", body["error"])

	rec, body = env.do(t, http.MethodPost, "/api/assistant/query", "founder-token", map[string]any{
		"question": "any red team gaps?",
		"context":  map[string]any{"table": "maroon_redteam_gap_register", "limit": 5},
	})
	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.Equal(t, true, body["used_context"])
}

func TestCommandCenterSnapshotEndpoint(t *testing.T) {
	env := newTestEnv(t)

	// The test policy allowlist omits some snapshot tables, so the
	// service rejects the read before touching the runner.
	rec, body := env.do(t, http.MethodGet, "/api/command-center/snapshot", "founder-token", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", body["error"])
}

func TestVectorEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/vector/upsert", "engineer-token", map[string]any{
		"namespace":   "docs",
		"source_path": "runbook.md",
		"text":        "restart the ingest worker",
	})
	require.Equal(t, http.StatusOK, rec.Code, body)
	id, _ := body["id"].(string)
	assert.NotEmpty(t, id)

	rec, body = env.do(t, http.MethodPost, "/api/vector/search", "engineer-token", map[string]any{
		"namespace": "docs",
		"query":     "restart the ingest worker",
		"k":         5,
	})
	require.Equal(t, http.StatusOK, rec.Code, body)
	matches, _ := body["matches"].([]any)
	require.Len(t, matches, 1)

	rec, body = env.do(t, http.MethodPost, "/api/vector/upsert", "engineer-token", map[string]any{
		"namespace": "docs",
		"text":      "",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_embedding", body["error"])
}

func TestOperatorProfile(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/operator/profile", "counsel-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	operator, ok := body["operator"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "counsel-1", operator["uid"])
	assert.Equal(t, "counsel", operator["role"])
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodGet, "/api/model/generate", "engineer-token", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "method_not_allowed", body["error"])
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "invalid_request", body["error"])
}

type fakeDir struct {
	users map[string]*auth.UserRecord
}

func (d *fakeDir) GetUser(_ context.Context, uid string) (*auth.UserRecord, error) {
	if u, ok := d.users[uid]; ok {
		return u, nil
	}
	return nil, errors.New("no such user")
}

func (d *fakeDir) GetUserByEmail(_ context.Context, email string) (*auth.UserRecord, error) {
	for _, u := range d.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, errors.New("no such user")
}

func (d *fakeDir) SetCustomClaims(_ context.Context, uid string, claims map[string]any) error {
	u, ok := d.users[uid]
	if !ok {
		return errors.New("no such user")
	}
	u.CustomClaims = claims
	return nil
}

func (d *fakeDir) ListUsers(_ context.Context, pageToken string, _ int) ([]*auth.UserRecord, string, error) {
	if pageToken != "" {
		return nil, "", nil
	}
	out := make([]*auth.UserRecord, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	return out, "", nil
}

func TestOperatorRole(t *testing.T) {
	newEnvWithDirectory := func(t *testing.T) (*testEnv, *fakeDir) {
		t.Helper()
		env := newTestEnv(t)
		dir := &fakeDir{users: map[string]*auth.UserRecord{
			"eng-1": {UID: "eng-1", Email: "eng@maroon.dev", EmailVerified: true},
		}}
		// Rebuild the handler with the directory wired in.
		h := env.handlerStruct
		h.dir = dir
		h.roles = auth.NewRoleService(dir, h.policy, zap.NewNop())
		return env, dir
	}

	t.Run("bootstrap key without bearer token", func(t *testing.T) {
		env, dir := newEnvWithDirectory(t)
		req := httptest.NewRequest(http.MethodPost, "/api/operator/role",
			bytes.NewReader([]byte(`{"uid":"eng-1","role":"counsel"}`)))
		req.Header.Set("x-maroon-admin-key", "bootstrap-secret")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "bootstrap_key", body["authorized_via"])
		assert.Equal(t, "counsel", dir.users["eng-1"].CustomClaims[policy.ClaimRole])
	})

	t.Run("wrong key and no token is rejected", func(t *testing.T) {
		env, _ := newEnvWithDirectory(t)
		req := httptest.NewRequest(http.MethodPost, "/api/operator/role",
			bytes.NewReader([]byte(`{"uid":"eng-1","role":"counsel"}`)))
		req.Header.Set("x-maroon-admin-key", "wrong")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("founder claim authorizes", func(t *testing.T) {
		env, _ := newEnvWithDirectory(t)
		rec, body := env.do(t, http.MethodPost, "/api/operator/role", "founder-token", map[string]any{
			"uid": "eng-1", "role": "engineer",
		})
		require.Equal(t, http.StatusOK, rec.Code, body)
		assert.Equal(t, "founder_claim", body["authorized_via"])
	})

	t.Run("engineer cannot self-assign a role", func(t *testing.T) {
		env, _ := newEnvWithDirectory(t)
		rec, body := env.do(t, http.MethodPost, "/api/operator/role", "engineer-token", map[string]any{
			"uid": "eng-1", "role": "counsel",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "auth_role_not_allowed", body["error"])
	})
}

func TestLearningEventsAndTasks(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/learning-events", "engineer-token", map[string]any{
		"source":  "retro",
		"summary": "contact ops@maroon.dev about the outage",
	})
	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.NotEmpty(t, body["id"])

	rec, body = env.do(t, http.MethodPost, "/api/tasks", "engineer-token", map[string]any{
		"title":    "rotate keys",
		"priority": "P1",
		"status":   "open",
	})
	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.NotEmpty(t, body["id"])

	rec, body = env.do(t, http.MethodPost, "/api/tasks", "engineer-token", map[string]any{"title": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", body["error"])
}
