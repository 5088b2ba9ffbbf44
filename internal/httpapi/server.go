package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/toydogcat/model-server/internal/pipeline"
	"github.com/toydogcat/model-server/internal/registry"
	"github.com/toydogcat/model-server/pkg/types"
)

// Service is the surface the HTTP layer drives: a model registry plus a
// pipeline factory bound to it. Both fields are concrete types, so tests
// drive the handlers through a real *registry.ModelManager and
// *pipeline.PipelineFactory.
type Service struct {
	Manager  *registry.ModelManager
	Pipeline *pipeline.PipelineFactory
}

// Options configures NewMux. RateLimit follows limiter's "<n>-<period>"
// syntax (e.g. "200-M"); empty disables rate limiting. PredictTimeoutSeconds
// bounds handlePredict/handlePipelinePredict on top of whatever the caller's
// own request context already imposes; zero leaves that additional timeout
// disabled.
type Options struct {
	RateLimit             string
	CORSOrigins           []string
	MaxBodyBytes          int64
	PredictTimeoutSeconds int64
}

func NewMux(svc Service, opts Options) (http.Handler, error) {
	if opts.MaxBodyBytes > 0 {
		SetMaxBodyBytes(opts.MaxBodyBytes)
	}
	SetPredictTimeoutSeconds(opts.PredictTimeoutSeconds)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	SetCORSOptions(len(opts.CORSOrigins) > 0, opts.CORSOrigins,
		[]string{"GET", "POST", "PUT", "DELETE"}, []string{"Content-Type", "X-Log-Level"})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	if opts.RateLimit != "" {
		rl, err := newRateLimitMiddleware(opts.RateLimit)
		if err != nil {
			return nil, err
		}
		r.Use(rl)
	}

	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", svc.handleReadyz)
	r.Get("/status", svc.handleStatus)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1/models", func(r chi.Router) {
		r.Get("/", svc.handleListModels)
		r.Get("/{name}", svc.handleGetModel)
		r.Post("/{name}/versions", svc.handleLoadVersions)
		r.Put("/{name}/versions", svc.handleReloadVersions)
		r.Delete("/{name}/versions", svc.handleRetireVersions)
		r.Post("/{name}/predict", svc.handlePredict)
	})

	r.Route("/v1/pipelines", func(r chi.Router) {
		r.Get("/", svc.handleListPipelines)
		r.Post("/", svc.handleCreatePipeline)
		r.Post("/{name}/predict", svc.handlePipelinePredict)
	})

	MountSwagger(r)
	return r, nil
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (svc Service) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if len(svc.Manager.ListModels()) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("no models registered"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func (svc Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.StatusResponse{
		Ready:         len(svc.Manager.ListModels()) > 0,
		Models:        svc.Manager.ListModels(),
		PipelineNames: svc.Pipeline.ListDefinitions(),
	})
}

func (svc Service) handleListModels(w http.ResponseWriter, r *http.Request) {
	names := svc.Manager.ListModels()
	summaries := make([]types.ModelSummary, 0, len(names))
	for _, name := range names {
		model, err := svc.Manager.GetModel(name)
		if err != nil {
			continue
		}
		versions := make([]int64, 0)
		for _, v := range model.Versions() {
			versions = append(versions, int64(v))
		}
		summaries = append(summaries, types.ModelSummary{
			Name:           name,
			Versions:       versions,
			DefaultVersion: int64(model.DefaultVersion()),
		})
	}
	writeJSON(w, http.StatusOK, types.ListModelsResponse{Models: summaries})
}

func (svc Service) handleGetModel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	model, err := svc.Manager.GetModel(name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	versions := make([]int64, 0)
	for _, v := range model.Versions() {
		versions = append(versions, int64(v))
	}
	writeJSON(w, http.StatusOK, types.ModelSummary{
		Name:           name,
		Versions:       versions,
		DefaultVersion: int64(model.DefaultVersion()),
	})
}

func (svc Service) handleLoadVersions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body types.ModelConfigWire
	if !decodeJSON(w, r, &body) {
		return
	}
	ctx, cancel := joinedContext(r)
	defer cancel()
	err := svc.Manager.LoadVersions(ctx, name, body.ToVersions(), body.ToModelConfig(name))
	respondEmpty(w, r, err)
}

func (svc Service) handleReloadVersions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body types.ModelConfigWire
	if !decodeJSON(w, r, &body) {
		return
	}
	ctx, cancel := joinedContext(r)
	defer cancel()
	err := svc.Manager.ReloadVersions(ctx, name, body.ToVersions(), body.ToModelConfig(name))
	respondEmpty(w, r, err)
}

func (svc Service) handleRetireVersions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx, cancel := joinedContext(r)
	defer cancel()
	q := r.URL.Query().Get("versions")
	if q == "" {
		err := svc.Manager.RetireAllVersions(ctx, name)
		respondEmpty(w, r, err)
		return
	}
	versions, err := parseVersionList(q)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid versions query parameter")
		return
	}
	err = svc.Manager.RetireVersions(ctx, name, versions)
	respondEmpty(w, r, err)
}

func (svc Service) handlePredict(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	version := types.ModelVersion(0)
	if q := r.URL.Query().Get("version"); q != "" {
		n, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid version query parameter")
			return
		}
		version = types.ModelVersion(n)
	}

	var body types.PredictHTTPRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	inputs, err := body.ToTensorSet()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid tensor data: "+err.Error())
		return
	}

	inst, guard, err := svc.Manager.GetModelInstance(name, version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer guard.Release()

	ctx, cancel := joinedContext(r)
	defer cancel()
	start := time.Now()
	outputs, err := inst.Execute(ctx, inputs)
	if err != nil {
		logAccess(r, middleware.GetReqID(r.Context()), http.StatusInternalServerError, time.Since(start), err)
		writeError(w, r, err)
		return
	}
	logAccess(r, middleware.GetReqID(r.Context()), http.StatusOK, time.Since(start), nil)
	writeJSON(w, http.StatusOK, types.NewPredictHTTPResponse(outputs))
}

func (svc Service) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pipelines": svc.Pipeline.ListDefinitions()})
}

func (svc Service) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if strings.TrimSpace(name) == "" {
		writeJSONError(w, http.StatusBadRequest, "name query parameter is required")
		return
	}
	var body types.CreatePipelineRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	nodeInfos, connections, err := toPipelineDefinition(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = svc.Pipeline.CreateDefinition(name, nodeInfos, connections, svc.Manager)
	respondEmpty(w, r, err)
}

func (svc Service) handlePipelinePredict(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body types.PredictHTTPRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	inputs, err := body.ToTensorSet()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid tensor data: "+err.Error())
		return
	}

	req := &types.TensorSetRequest{Model: name, Inputs: inputs}
	resp := types.NewTensorSetResponse()

	ctx, cancel := joinedContext(r)
	defer cancel()
	start := time.Now()
	p, err := svc.Pipeline.Create(ctx, name, req, resp, svc.Manager)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := p.Execute(ctx); err != nil {
		logAccess(r, middleware.GetReqID(r.Context()), http.StatusInternalServerError, time.Since(start), err)
		writeError(w, r, err)
		return
	}
	logAccess(r, middleware.GetReqID(r.Context()), http.StatusOK, time.Since(start), nil)
	writeJSON(w, http.StatusOK, types.NewPredictHTTPResponse(resp.Outputs))
}

func toPipelineDefinition(body types.CreatePipelineRequest) ([]pipeline.NodeInfo, []pipeline.Connection, error) {
	nodeInfos := make([]pipeline.NodeInfo, 0, len(body.Nodes))
	for _, n := range body.Nodes {
		kind, err := pipeline.ParseNodeKind(n.Kind)
		if err != nil {
			return nil, nil, err
		}
		nodeInfos = append(nodeInfos, pipeline.NodeInfo{
			Name:          n.Name,
			Kind:          kind,
			ModelName:     n.ModelName,
			ModelVersion:  types.ModelVersion(n.ModelVersion),
			OutputAliases: n.OutputAliases,
		})
	}
	connections := make([]pipeline.Connection, 0, len(body.Connections))
	for _, c := range body.Connections {
		connections = append(connections, pipeline.Connection{From: c.From, To: c.To, Aliases: c.Aliases})
	}
	return nodeInfos, connections, nil
}

func parseVersionList(q string) ([]types.ModelVersion, error) {
	parts := strings.Split(q, ",")
	out := make([]types.ModelVersion, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, types.ModelVersion(n))
	}
	return out, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if he, ok := err.(HTTPError); ok {
		writeJSONError(w, he.StatusCode(), he.Error())
		return
	}
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}

func respondEmpty(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// joinedContext ties the request context to the process-level base context
// set via SetBaseContext, so a graceful shutdown cancels in-flight
// predicts, and applies predictTimeout on top when configured. Callers must
// defer the returned cancel func.
func joinedContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	if predictTimeout <= 0 {
		return ctx, cancel
	}
	timeoutCtx, timeoutCancel := context.WithTimeout(ctx, time.Duration(predictTimeout)*time.Second)
	return timeoutCtx, func() {
		timeoutCancel()
		cancel()
	}
}
