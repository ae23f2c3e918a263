package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/runner"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
)

const (
	serviceName       = "tendhunt-pipeline"
	defaultErrorLimit = 50
	maxErrorLimit     = 500
)

var (
	servePort     int
	serveSchedule bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger server",
	Long:  "Serves /run, /run-buyer, /debug and the error admin endpoints. With --schedule, also triggers each worker on its configured interval.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Pipeline.Secret == "" {
			zap.L().Warn("TENDHUNT_PIPELINE_SECRET not set, every protected endpoint will answer 401")
		}

		if serveSchedule {
			intervals, err := runner.ParseSchedule(cfg.Pipeline.Schedule)
			if err != nil {
				return err
			}
			go runner.NewScheduler(env.Runner, intervals).Start(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env, cfg.Pipeline.Secret, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.Bool("schedule", serveSchedule))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveSchedule, "schedule", false, "trigger workers on their configured intervals")
	rootCmd.AddCommand(serveCmd)
}

// api serves the trigger and admin endpoints.
type api struct {
	env    *pipelineEnv
	secret string
}

// newRouter mounts every endpoint at the root, where the worker defaults to
// enrichment, and again under /{worker}.
func newRouter(env *pipelineEnv, secret string, origins []string) http.Handler {
	a := &api{env: env, secret: secret}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)
	r.Group(a.protected)
	r.Route("/{worker}", func(r chi.Router) {
		r.Use(a.requireWorker)
		r.Get("/health", a.health)
		r.Group(a.protected)
	})
	return r
}

func (a *api) protected(r chi.Router) {
	r.Use(a.requireSecret)
	r.Get("/run", a.run)
	r.Get("/run-buyer", a.runBuyer)
	r.Get("/debug", a.debug)
	r.Get("/errors", a.listErrors)
	r.Post("/errors/resolve", a.resolveErrors)
}

// requireSecret accepts the shared secret as the secret query parameter or
// a bearer token. An unset secret rejects every request.
func (a *api) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("secret")
		if got == "" {
			got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if a.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(a.secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *api) requireWorker(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !model.Worker(chi.URLParam(r, "worker")).Valid() {
			writeError(w, http.StatusNotFound, "unknown worker")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// worker resolves the worker from the path prefix, then the worker query
// parameter, defaulting to enrichment.
func worker(r *http.Request) (model.Worker, error) {
	if p := chi.URLParam(r, "worker"); p != "" {
		return model.Worker(p), nil
	}
	q := r.URL.Query().Get("worker")
	if q == "" {
		return model.WorkerEnrichment, nil
	}
	w := model.Worker(q)
	if !w.Valid() {
		return "", eris.Errorf("unknown worker %q", q)
	}
	return w, nil
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "worker": serviceName})
}

func (a *api) run(w http.ResponseWriter, r *http.Request) {
	wk, err := worker(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	max := 0
	if raw := r.URL.Query().Get("max"); raw != "" {
		max, err = strconv.Atoi(raw)
		if err != nil || max < 0 {
			writeError(w, http.StatusBadRequest, "max must be a non-negative integer")
			return
		}
	}

	sum, err := a.env.Runner.Run(r.Context(), wk, max)
	if err != nil {
		zap.L().Error("run failed", zap.String("worker", string(wk)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *api) runBuyer(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	sum, err := a.env.Runner.RunBuyer(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *api) debug(w http.ResponseWriter, r *http.Request) {
	info, err := a.env.Runner.Debug(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *api) listErrors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.ErrorFilter{
		Worker:    model.Worker(chi.URLParam(r, "worker")),
		Stage:     model.Stage(q.Get("stage")),
		ErrorType: model.ErrorType(q.Get("type")),
		Limit:     defaultErrorLimit,
	}
	if f.Worker == "" {
		f.Worker = model.Worker(q.Get("worker"))
	}
	if raw := q.Get("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "resolved must be true or false")
			return
		}
		f.Resolved = &resolved
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit"), defaultErrorLimit); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	f.Limit = min(f.Limit, maxErrorLimit)
	if f.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	list, err := a.env.Errors.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	unresolved, err := a.env.Errors.UnresolvedCount(r.Context(), model.ErrorFilter{Worker: f.Worker, Stage: f.Stage, ErrorType: f.ErrorType})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": list, "unresolved": unresolved})
}

type resolveRequest struct {
	IDs    []string        `json:"ids"`
	Worker model.Worker    `json:"worker"`
	Stage  model.Stage     `json:"stage"`
	Type   model.ErrorType `json:"type"`
}

func (a *api) resolveErrors(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if p := chi.URLParam(r, "worker"); p != "" && req.Worker == "" {
		req.Worker = model.Worker(p)
	}
	if len(req.IDs) == 0 && req.Worker == "" && req.Stage == "" && req.Type == "" {
		writeError(w, http.StatusBadRequest, "ids or a worker, stage or type filter is required")
		return
	}
	n, err := a.env.Errors.Resolve(r.Context(), req.IDs, model.ErrorFilter{Worker: req.Worker, Stage: req.Stage, ErrorType: req.Type})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"resolved": n})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, eris.Errorf("invalid integer %q", raw)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
