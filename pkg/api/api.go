// Package api exposes manifest generation and verification over HTTP.
package api

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/gur-shatz/go-integrity/internal/hasher"
	"github.com/gur-shatz/go-integrity/internal/log"
	"github.com/gur-shatz/go-integrity/internal/manifest"
	"github.com/gur-shatz/go-integrity/pkg/config"
	"github.com/gur-shatz/go-integrity/pkg/integrity"
)

// Server answers integrity requests for one configured root and manifest.
// Generation takes the write lock so a verify never reads a half-written
// manifest.
type Server struct {
	cfg *config.Config
	log *log.Logger

	mu         sync.RWMutex
	lastReport *verifyResponse
}

type resultView struct {
	Path    string `json:"path"`
	Status  string `json:"status"`
	Stored  string `json:"stored"`
	Current string `json:"current,omitempty"`
	Error   string `json:"error,omitempty"`
}

type verifyResponse struct {
	Manifest  string         `json:"manifest"`
	Algorithm string         `json:"algorithm"`
	OK        bool           `json:"ok"`
	Counts    map[string]int `json:"counts"`
	Results   []resultView   `json:"results"`
	Checked   time.Time      `json:"checked"`
}

type skipView struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type generateResponse struct {
	Manifest  string     `json:"manifest"`
	Algorithm string     `json:"algorithm"`
	Files     int        `json:"files"`
	Skipped   []skipView `json:"skipped"`
	Ignored   []string   `json:"ignored"`
}

type manifestResponse struct {
	Manifest string           `json:"manifest"`
	Entries  []manifest.Entry `json:"entries"`
}

// New returns a Server. cfg must already be validated.
func New(cfg *config.Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{cfg: cfg, log: logger}
}

// Routes returns a chi.Router with all API routes mounted.
// Caller mounts it at any prefix: mainRouter.Mount("/api", srv.Routes())
func (this *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", this.handleHealth)
	r.Get("/algorithms", this.handleAlgorithms)
	r.Get("/manifest", this.handleManifest)
	r.Get("/report", this.handleLastReport)
	r.Post("/verify", this.handleVerify)
	r.Post("/generate", this.handleGenerate)

	return r
}

// ListenAndServe serves Handler on addr until ctx is done.
func (this *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: this.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	this.log.Status("Listening on http://%s (API under /api)", ln.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (this *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (this *Server) handleAlgorithms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default":    hasher.DefaultAlgorithm,
		"algorithms": integrity.Algorithms(),
	})
}

func (this *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	this.mu.RLock()
	entries, err := integrity.ReadManifest(this.cfg.Manifest, this.cfg.ManifestFormat())
	this.mu.RUnlock()
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, manifestResponse{
		Manifest: this.cfg.Manifest,
		Entries:  manifest.Sorted(entries),
	})
}

func (this *Server) handleLastReport(w http.ResponseWriter, r *http.Request) {
	this.mu.RLock()
	report := this.lastReport
	this.mu.RUnlock()
	if report == nil {
		writeError(w, http.StatusNotFound, "no verification has run yet")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (this *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	opts, ok := this.options(w, r)
	if !ok {
		return
	}

	this.mu.RLock()
	report, err := integrity.VerifyIntegrity(r.Context(), this.cfg.Manifest, opts)
	this.mu.RUnlock()
	if err != nil {
		this.log.Error("verify: %v", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	resp := &verifyResponse{
		Manifest:  this.cfg.Manifest,
		Algorithm: report.Algorithm,
		OK:        report.OK(),
		Counts:    make(map[string]int),
		Results:   make([]resultView, 0, len(report.Results)),
		Checked:   time.Now().UTC(),
	}
	for status, n := range report.Counts() {
		resp.Counts[status.String()] = n
	}
	for _, res := range report.Results {
		view := resultView{
			Path:    res.Path,
			Status:  res.Status.String(),
			Stored:  res.Stored,
			Current: res.Current,
		}
		if res.Err != nil {
			view.Error = res.Err.Error()
		}
		resp.Results = append(resp.Results, view)
	}

	this.mu.Lock()
	this.lastReport = resp
	this.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (this *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	opts, ok := this.options(w, r)
	if !ok {
		return
	}

	this.mu.Lock()
	result, err := integrity.GenerateManifest(r.Context(), this.cfg.Root, this.cfg.Manifest, opts)
	this.lastReport = nil
	this.mu.Unlock()
	if err != nil {
		this.log.Error("generate: %v", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	resp := generateResponse{
		Manifest:  this.cfg.Manifest,
		Algorithm: hasher.Normalize(opts.Algorithm),
		Files:     len(result.Entries),
		Skipped:   make([]skipView, 0, len(result.Skipped)),
		Ignored:   result.Ignored,
	}
	if resp.Ignored == nil {
		resp.Ignored = []string{}
	}
	for _, s := range result.Skipped {
		resp.Skipped = append(resp.Skipped, skipView{Path: s.Path, Error: s.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// options builds integrity options from the config, honoring an
// ?algorithm= override.
func (this *Server) options(w http.ResponseWriter, r *http.Request) (integrity.Options, bool) {
	opts := integrity.OptionsFromConfig(this.cfg)
	if a := r.URL.Query().Get("algorithm"); a != "" {
		if !hasher.Supported(a) {
			writeError(w, http.StatusBadRequest, "unsupported algorithm: "+a)
			return opts, false
		}
		opts.Algorithm = a
	}
	return opts, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, hasher.ErrUnsupportedAlgorithm), errors.Is(err, manifest.ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
