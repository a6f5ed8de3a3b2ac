package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/maroonops/signal-console/internal/apierr"
	"github.com/maroonops/signal-console/internal/auth"
	"github.com/maroonops/signal-console/internal/cache"
	"github.com/maroonops/signal-console/internal/config"
	"github.com/maroonops/signal-console/internal/ids"
	"github.com/maroonops/signal-console/internal/policy"
	"github.com/maroonops/signal-console/internal/provider"
	"github.com/maroonops/signal-console/internal/store"
	"github.com/maroonops/signal-console/internal/vector"
	"github.com/maroonops/signal-console/internal/warehouse"
)

const (
	defaultMemoryMessages = 6
	maxMemoryMessages     = 20
	sqlContextMaxChars    = 4000
)

// Handler owns the injected services. Every handler is stateless;
// request-scoped data travels via the context.
type Handler struct {
	cfg      *config.Config
	log      *zap.Logger
	resolver *auth.Resolver
	roles    *auth.RoleService
	dir      auth.Directory
	policy   *policy.Policy
	compiler *warehouse.Compiler
	runner   warehouse.Runner
	snapshot *warehouse.SnapshotService
	router   *provider.Router
	embedder provider.Embedder
	cache    *cache.Service
	memory   *vector.Memory
	store    store.Store
	now      func() time.Time
}

// HandlerDeps carries the constructor inputs for NewHandler. dir and
// roles are nil when no identity directory is configured.
type HandlerDeps struct {
	Config   *config.Config
	Log      *zap.Logger
	Resolver *auth.Resolver
	Roles    *auth.RoleService
	Dir      auth.Directory
	Policy   *policy.Policy
	Compiler *warehouse.Compiler
	Runner   warehouse.Runner
	Snapshot *warehouse.SnapshotService
	Router   *provider.Router
	Embedder provider.Embedder
	Cache    *cache.Service
	Memory   *vector.Memory
	Store    store.Store
}

func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		cfg:      deps.Config,
		log:      deps.Log,
		resolver: deps.Resolver,
		roles:    deps.Roles,
		dir:      deps.Dir,
		policy:   deps.Policy,
		compiler: deps.Compiler,
		runner:   deps.Runner,
		snapshot: deps.Snapshot,
		router:   deps.Router,
		embedder: deps.Embedder,
		cache:    deps.Cache,
		memory:   deps.Memory,
		store:    deps.Store,
		now:      time.Now,
	}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]any{
		"service": "signal-console",
		"time":    h.now().UTC().Format(time.RFC3339),
	})
}

// QuotaSnapshot reports which provider credentials and backends are
// configured, without echoing any secret material.
func (h *Handler) QuotaSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := map[string]any{
		"providers": map[string]any{
			provider.NameGemini: map[string]any{
				"configured": h.cfg.GeminiAPIKey != "",
				"model":      h.cfg.GeminiModel,
			},
			provider.NameClaude: map[string]any{
				"configured": h.cfg.AnthropicAPIKey != "",
				"model":      h.cfg.ClaudeModel,
			},
			provider.NameDeepSeek: map[string]any{
				"configured": h.cfg.DeepSeekAPIKey != "",
				"model":      h.cfg.DeepSeekModel,
			},
		},
		"primary_provider": h.router.Normalize(""),
		"embed_models":     h.cfg.EmbedModels,
		"store_driver":     h.cfg.StoreDriver,
		"warehouse": map[string]any{
			"dataset":          h.cfg.BigQueryDataset,
			"location":         h.cfg.BigQueryLocation,
			"max_bytes_billed": h.cfg.MaxBytesBilled,
			"allowlist_size":   h.policy.AllowlistSize(),
		},
	}
	h.audit(r.Context(), "quota_snapshot", map[string]any{"snapshot": snapshot})
	writeOK(w, map[string]any{"quota": snapshot})
}

type generateRequest struct {
	Provider        string  `json:"provider"`
	Model           string  `json:"model"`
	Prompt          string  `json:"prompt"`
	System          string  `json:"system"`
	Temperature     float64 `json:"temperature"`
	Redact          bool    `json:"redact"`
	CacheKey        string  `json:"cache_key"`
	CacheTTLSeconds *int    `json:"cache_ttl_seconds"`
	BypassCache     bool    `json:"bypass_cache"`
}

// ModelGenerate runs one generation through the provider router with
// the response cache in front.
func (h *Handler) ModelGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if aerr := decodeJSON(r, &req); aerr != nil {
		writeError(w, h.log, aerr)
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		writeError(w, h.log, apierr.BadRequest(apierr.CodeInvalidRequest, "prompt is required"))
		return
	}

	providerName := h.router.Normalize(req.Provider)
	system := req.System
	if req.Redact {
		prompt = provider.Redact(prompt)
		system = provider.Redact(system)
	}
	model := req.Model
	if model == "" {
		model = h.defaultModelFor(providerName)
	}

	ttl := cache.DefaultTTLSeconds
	if req.CacheTTLSeconds != nil {
		ttl = cache.ClampTTL(*req.CacheTTLSeconds)
	}
	key := strings.TrimSpace(req.CacheKey)
	if key == "" {
		key = cache.Key(providerName, model, system, prompt)
	}

	if !req.BypassCache {
		if entry := h.cache.Lookup(r.Context(), key, ttl); entry != nil {
			writeOK(w, map[string]any{
				"cached":    true,
				"cache_key": key,
				"provider":  entry.Provider,
				"model":     entry.Model,
				"text":      entry.Text,
				"cached_at": entry.CachedAt,
			})
			return
		}
	}

	result, err := h.router.Generate(r.Context(), providerName, provider.GenerateRequest{
		Prompt:      prompt,
		System:      system,
		Model:       model,
		Temperature: req.Temperature,
	})
	if err != nil {
		writeError(w, h.log, provider.AsAPIError(err))
		return
	}

	h.cache.Store(r.Context(), &store.CacheEntry{
		Key:           key,
		Provider:      result.Provider,
		Model:         result.Model,
		Text:          result.Text,
		PromptPreview: apierr.Clip(prompt, 240),
		SystemPreview: apierr.Clip(system, 240),
		CachedAt:      h.now().UTC(),
	})
	h.audit(r.Context(), "model_call", map[string]any{
		"provider":  result.Provider,
		"model":     result.Model,
		"cache_key": key,
		"redacted":  req.Redact,
		"operator":  operatorUID(r.Context()),
	})

	writeOK(w, map[string]any{
		"cached":    false,
		"cache_key": key,
		"provider":  result.Provider,
		"model":     result.Model,
		"text":      result.Text,
	})
}

type assistantContext struct {
	Table string `json:"table"`
	Limit int    `json:"limit"`
}

type assistantRequest struct {
	Provider    string            `json:"provider"`
	Model       string            `json:"model"`
	Question    string            `json:"question"`
	System      string            `json:"system"`
	Temperature float64           `json:"temperature"`
	ThreadID    string            `json:"thread_id"`
	MemoryLimit int               `json:"memory_limit"`
	Redact      bool              `json:"redact"`
	Context     *assistantContext `json:"context"`
}

// AssistantQuery answers a question with short-term thread memory and
// an optional role-gated warehouse context block prepended to the
// prompt.
func (h *Handler) AssistantQuery(w http.ResponseWriter, r *http.Request) {
	op := OperatorFrom(r.Context())
	var req assistantRequest
	if aerr := decodeJSON(r, &req); aerr != nil {
		writeError(w, h.log, aerr)
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, h.log, apierr.BadRequest(apierr.CodeInvalidRequest, "question is required"))
		return
	}
	if req.Redact {
		question = provider.Redact(question)
	}

	providerName := h.router.Normalize(req.Provider)
	model := req.Model
	if model == "" {
		model = h.defaultModelFor(providerName)
	}

	// Threads default to a per-operator, per-provider, per-minute
	// bucket so rapid follow-ups share memory without a client id.
	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		threadID = ids.Derive("thread", op.UID, providerName, h.now().UTC().Format("200601021504"))
	}

	memoryLimit := req.MemoryLimit
	if memoryLimit <= 0 {
		memoryLimit = defaultMemoryMessages
	}
	if memoryLimit > maxMemoryMessages {
		memoryLimit = maxMemoryMessages
	}

	var sections []string
	recent, err := h.store.RecentMessages(r.Context(), threadID, memoryLimit)
	if err != nil {
		h.log.Warn("thread memory read failed", zap.String("thread_id", threadID), zap.Error(err))
	} else if len(recent) > 0 {
		var b strings.Builder
		b.WriteString("Recent conversation:\n")
		for _, msg := range recent {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Text)
		}
		sections = append(sections, b.String())
	}

	usedContext := false
	if req.Context != nil && strings.TrimSpace(req.Context.Table) != "" {
		block, aerr := h.sqlContextBlock(r.Context(), op.Role, *req.Context)
		if aerr != nil {
			writeError(w, h.log, aerr)
			return
		}
		sections = append(sections, block)
		usedContext = true
	}

	sections = append(sections, "Question: "+question)
	prompt := strings.Join(sections, "\n\n")

	result, genErr := h.router.Generate(r.Context(), providerName, provider.GenerateRequest{
		Prompt:      prompt,
		System:      req.System,
		Model:       model,
		Temperature: req.Temperature,
	})
	if genErr != nil {
		writeError(w, h.log, provider.AsAPIError(genErr))
		return
	}

	h.recordExchange(r.Context(), op, threadID, result, question)
	writeOK(w, map[string]any{
		"thread_id":    threadID,
		"provider":     result.Provider,
		"model":        result.Model,
		"text":         result.Text,
		"memory_used":  len(recent),
		"used_context": usedContext,
	})
}

// sqlContextBlock runs a single-table read through the query compiler
// and formats the rows as a bounded context section.
func (h *Handler) sqlContextBlock(ctx context.Context, role policy.Role, req assistantContext) (string, *apierr.Error) {
	compiled, aerr := h.compiler.Compile(role, warehouse.Request{
		Table: req.Table,
		Limit: req.Limit,
	})
	if aerr != nil {
		return "", aerr
	}
	result, err := h.runner.RunQuery(ctx, compiled.SQL, compiled.Params)
	if err != nil {
		h.log.Warn("assistant context read failed", zap.String("table", req.Table), zap.Error(err))
		return "", apierr.Internal("context read failed for table %s", req.Table)
	}
	rows, err := json.Marshal(result.Rows)
	if err != nil {
		return "", apierr.Internal("context rows could not be serialized")
	}
	return fmt.Sprintf("Data from %s:\n%s", req.Table, apierr.Clip(string(rows), sqlContextMaxChars)), nil
}

// recordExchange persists the user and assistant turns. Failures are
// logged; the response has already been earned.
func (h *Handler) recordExchange(ctx context.Context, op *auth.Operator, threadID string, result *provider.GenerateResult, question string) {
	now := h.now().UTC()
	if err := h.store.UpsertThread(ctx, &store.Thread{
		ID:           threadID,
		OwnerUID:     op.UID,
		OwnerEmail:   op.Email,
		LastProvider: result.Provider,
		LastModel:    result.Model,
		UpdatedAt:    now,
	}); err != nil {
		h.log.Warn("thread upsert failed", zap.String("thread_id", threadID), zap.Error(err))
		return
	}
	turns := []store.Message{
		{ThreadID: threadID, Role: "user", Text: question, CreatedAt: now},
		{ThreadID: threadID, Role: "assistant", Provider: result.Provider, Model: result.Model, Text: result.Text, CreatedAt: now.Add(time.Millisecond)},
	}
	for i := range turns {
		if err := h.store.AppendMessage(ctx, &turns[i]); err != nil {
			h.log.Warn("message append failed", zap.String("thread_id", threadID), zap.Error(err))
		}
	}
}

// WarehouseRead compiles and runs one declarative table read.
func (h *Handler) WarehouseRead(w http.ResponseWriter, r *http.Request) {
	op := OperatorFrom(r.Context())
	var req warehouse.Request
	if aerr := decodeJSON(r, &req); aerr != nil {
		writeError(w, h.log, aerr)
		return
	}
	compiled, aerr := h.compiler.Compile(op.Role, req)
	if aerr != nil {
		writeError(w, h.log, aerr)
		return
	}
	result, err := h.runner.RunQuery(r.Context(), compiled.SQL, compiled.Params)
	if err != nil {
		h.log.Error("warehouse read failed", zap.String("table", req.Table), zap.Error(err))
		writeError(w, h.log, apierr.Internal("warehouse read failed"))
		return
	}
	h.audit(r.Context(), "warehouse_read", map[string]any{
		"table":    req.Table,
		"rows":     len(result.Rows),
		"job_id":   result.JobID,
		"operator": op.UID,
	})
	writeOK(w, map[string]any{
		"table":           req.Table,
		"rows":            result.Rows,
		"row_count":       len(result.Rows),
		"job_id":          result.JobID,
		"limit":           compiled.Limit,
		"applied_filters": compiled.AppliedFilters,
	})
}

// CommandCenterSnapshot joins the parallel metric reads.
func (h *Handler) CommandCenterSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshot.Read(r.Context())
	if err != nil {
		h.log.Error("snapshot failed", zap.Error(err))
		writeError(w, h.log, apierr.Internal("command center snapshot failed"))
		return
	}
	writeOK(w, map[string]any{
		"generated_at": snap.GeneratedAt,
		"metrics":      snap.Metrics,
	})
}

func (h *Handler) VectorUpsert(w http.ResponseWriter, r *http.Request) {
	var req vector.UpsertRequest
	if aerr := decodeJSON(r, &req); aerr != nil {
		writeError(w, h.log, aerr)
		return
	}
	result, err := h.memory.Upsert(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeOK(w, map[string]any{
		"id":              result.ID,
		"embedding_dims":  result.EmbeddingDims,
		"embedding_model": result.EmbeddingModel,
	})
}

func (h *Handler) VectorSearch(w http.ResponseWriter, r *http.Request) {
	var req vector.SearchRequest
	if aerr := decodeJSON(r, &req); aerr != nil {
		writeError(w, h.log, aerr)
		return
	}
	result, err := h.memory.Search(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeOK(w, map[string]any{
		"matches": result.Matches,
		"scanned": result.Scanned,
	})
}

// OperatorProfile returns the caller's resolved identity, plus the
// directory record when a directory is configured.
func (h *Handler) OperatorProfile(w http.ResponseWriter, r *http.Request) {
	op := OperatorFrom(r.Context())
	payload := map[string]any{"operator": op}
	if h.dir != nil && op.UID != "" && op.Provider != "bypass" {
		record, err := h.dir.GetUser(r.Context(), op.UID)
		if err != nil {
			h.log.Warn("profile lookup failed", zap.String("uid", op.UID), zap.Error(err))
		} else {
			payload["claims"] = record.CustomClaims
			payload["email_verified"] = record.EmailVerified
		}
	}
	writeOK(w, payload)
}

type assignRoleRequest struct {
	UID      string `json:"uid"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	AdminKey string `json:"admin_key"`
}

// OperatorRole assigns role custom claims. The caller authorizes with
// the bootstrap admin key, a founder claim, or the first-founder
// self-bootstrap path.
func (h *Handler) OperatorRole(w http.ResponseWriter, r *http.Request) {
	if h.roles == nil {
		writeError(w, h.log, apierr.Internal("identity directory is not configured"))
		return
	}
	var req assignRoleRequest
	if aerr := decodeJSON(r, &req); aerr != nil {
		writeError(w, h.log, aerr)
		return
	}

	candidateKey := strings.TrimSpace(r.Header.Get("x-maroon-admin-key"))
	if candidateKey == "" {
		candidateKey = strings.TrimSpace(req.AdminKey)
	}
	bootstrapOK := auth.BootstrapKeyMatches(h.cfg.RoleBootstrapKey, candidateKey)

	var actor *auth.Operator
	if !bootstrapOK {
		op, aerr := h.resolver.Resolve(r.Context(), r.Header.Get("Authorization"))
		if aerr != nil {
			writeError(w, h.log, aerr)
			return
		}
		actor = op
	}

	result, aerr := h.roles.AssignRole(r.Context(), auth.AssignRoleRequest{
		Actor:        actor,
		BootstrapKey: bootstrapOK,
		UID:          req.UID,
		Email:        req.Email,
		Role:         req.Role,
	})
	if aerr != nil {
		writeError(w, h.log, aerr)
		return
	}
	h.audit(r.Context(), "role_assignment", map[string]any{
		"uid":            result.UID,
		"role":           result.Role,
		"authorized_via": result.AuthorizedVia,
	})
	writeOK(w, map[string]any{
		"uid":            result.UID,
		"email":          result.Email,
		"role":           result.Role,
		"authorized_via": result.AuthorizedVia,
	})
}

type learningEventRequest struct {
	Source    string `json:"source"`
	Summary   string `json:"summary"`
	LearnedAt string `json:"learned_at"`
}

// LearningEvents ingests one redacted learning summary.
func (h *Handler) LearningEvents(w http.ResponseWriter, r *http.Request) {
	var req learningEventRequest
	if aerr := decodeJSON(r, &req); aerr != nil {
		writeError(w, h.log, aerr)
		return
	}
	summary := strings.TrimSpace(req.Summary)
	if summary == "" {
		writeError(w, h.log, apierr.BadRequest(apierr.CodeInvalidRequest, "summary is required"))
		return
	}
	event := &store.LearningEvent{
		ID:        ids.Derive("learn", req.Source, summary),
		Source:    req.Source,
		Summary:   provider.Redact(summary),
		LearnedAt: req.LearnedAt,
		CreatedAt: h.now().UTC(),
	}
	if err := h.store.AddLearningEvent(r.Context(), event); err != nil {
		h.log.Error("learning event write failed", zap.Error(err))
		writeError(w, h.log, apierr.Internal("failed to record learning event"))
		return
	}
	writeOK(w, map[string]any{"id": event.ID})
}

type taskRequest struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
	Details  string `json:"details"`
}

// Tasks upserts one work item, redacting free-form details.
func (h *Handler) Tasks(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if aerr := decodeJSON(r, &req); aerr != nil {
		writeError(w, h.log, aerr)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, h.log, apierr.BadRequest(apierr.CodeInvalidRequest, "title is required"))
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = ids.Derive("task", strings.ToLower(title))
	}
	task := &store.Task{
		ID:        id,
		Title:     title,
		Priority:  req.Priority,
		Status:    req.Status,
		Details:   provider.Redact(req.Details),
		UpdatedAt: h.now().UTC(),
	}
	if err := h.store.UpsertTask(r.Context(), task); err != nil {
		h.log.Error("task upsert failed", zap.String("task_id", id), zap.Error(err))
		writeError(w, h.log, apierr.Internal("failed to upsert task"))
		return
	}
	writeOK(w, map[string]any{"id": id})
}

// audit records a best-effort artifact.
func (h *Handler) audit(ctx context.Context, artifactType string, fields map[string]any) {
	if err := h.store.AddArtifact(ctx, &store.Artifact{
		Type:      artifactType,
		Fields:    fields,
		CreatedAt: h.now().UTC(),
	}); err != nil {
		h.log.Warn("artifact write failed", zap.String("type", artifactType), zap.Error(err))
	}
}

func (h *Handler) defaultModelFor(providerName string) string {
	switch providerName {
	case provider.NameGemini:
		return h.cfg.GeminiModel
	case provider.NameDeepSeek:
		return h.cfg.DeepSeekModel
	default:
		return h.cfg.ClaudeModel
	}
}

func operatorUID(ctx context.Context) string {
	if op := OperatorFrom(ctx); op != nil {
		return op.UID
	}
	return ""
}
