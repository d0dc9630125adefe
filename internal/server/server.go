// Package server exposes reconciliation, progress and report history over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"revenue-reconciler/internal/domain"
	"revenue-reconciler/internal/gateway"
	"revenue-reconciler/internal/progress"
	"revenue-reconciler/internal/usecase"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// errRunIDInUse is returned when a client reuses the id of another run.
var errRunIDInUse = errors.New("run id already in use")

// Reconciler runs one reconciliation.
type Reconciler interface {
	Reconcile(ctx context.Context, req usecase.Request) (*domain.ComparisonReport, error)
}

// HeaderReader returns the header row of a spreadsheet file.
type HeaderReader interface {
	Headers(ctx context.Context, path string) ([]string, error)
}

// Config carries the collaborators of a Server.
type Config struct {
	Reconciler     Reconciler
	Reader         HeaderReader
	Writer         *gateway.ReportWriter
	History        *gateway.History
	Tracker        *progress.Tracker
	Log            zerolog.Logger
	MaxUploadBytes int64
	UploadDir      string
}

// Server handles the HTTP API.
type Server struct {
	reconciler Reconciler
	reader     HeaderReader
	writer     *gateway.ReportWriter
	history    *gateway.History
	tracker    *progress.Tracker
	log        zerolog.Logger
	maxUpload  int64
	uploadDir  string
	router     *mux.Router
}

// New creates a server and registers its routes.
func New(cfg Config) *Server {
	s := &Server{
		reconciler: cfg.Reconciler,
		reader:     cfg.Reader,
		writer:     cfg.Writer,
		history:    cfg.History,
		tracker:    cfg.Tracker,
		log:        cfg.Log,
		maxUpload:  cfg.MaxUploadBytes,
		uploadDir:  cfg.UploadDir,
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 100 << 20
	}
	if s.writer == nil {
		s.writer = gateway.NewReportWriter()
	}

	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/headers", s.handleHeaders).Methods(http.MethodPost)
	api.HandleFunc("/reconcile", s.handleReconcile).Methods(http.MethodPost)
	api.HandleFunc("/progress/{run}", s.handleProgress).Methods(http.MethodGet)
	api.HandleFunc("/reports", s.handleListReports).Methods(http.MethodGet)
	api.HandleFunc("/reports/{name}", s.handleDownloadReport).Methods(http.MethodGet)
	api.HandleFunc("/reports/{name}/summary", s.handleReportSummary).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.log.Info().Msg("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type headersResponse struct {
	Headers []string             `json:"headers"`
	Mapping domain.ColumnMapping `json:"mapping"`
}

func (s *Server) handleHeaders(w http.ResponseWriter, r *http.Request) {
	if err := s.parseUpload(w, r); err != nil {
		s.writeError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	dir, err := os.MkdirTemp(s.uploadDir, "headers-*")
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer os.RemoveAll(dir)

	path, _, err := spoolUpload(r, "file", dir)
	if err != nil {
		s.writeError(w, err)
		return
	}
	headers, err := s.reader.Headers(r.Context(), path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, headersResponse{
		Headers: headers,
		Mapping: gateway.SuggestMapping(headers),
	})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if err := s.parseUpload(w, r); err != nil {
		s.writeError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	mappingA, err := formMapping(r, "mapping1")
	if err != nil {
		s.writeError(w, err)
		return
	}
	mappingB, err := formMapping(r, "mapping2")
	if err != nil {
		s.writeError(w, err)
		return
	}

	dir, err := os.MkdirTemp(s.uploadDir, "reconcile-*")
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer os.RemoveAll(dir)

	pathA, nameA, err := spoolUpload(r, "file1", filepath.Join(dir, "a"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	pathB, nameB, err := spoolUpload(r, "file2", filepath.Join(dir, "b"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	runID := r.FormValue("run_id")
	if runID == "" {
		runID = uuid.NewString()
	}
	w.Header().Set("X-Run-ID", runID)
	if !s.tracker.Begin(runID) {
		s.writeError(w, fmt.Errorf("%w: %s", errRunIDInUse, runID))
		return
	}

	report, err := s.reconciler.Reconcile(r.Context(), usecase.Request{
		RunID:     runID,
		A:         usecase.Source{Name: nameA, Path: pathA, Mapping: mappingA},
		B:         usecase.Source{Name: nameB, Path: pathB, Mapping: mappingB},
		Publisher: s.tracker.Publisher(runID),
	})
	if err != nil {
		s.tracker.Fail(runID, err)
		s.writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := s.writer.Write(report, &buf); err != nil {
		s.tracker.Fail(runID, err)
		s.writeError(w, err)
		return
	}
	name, err := s.history.Save(report)
	if err != nil {
		s.tracker.Fail(runID, err)
		s.writeError(w, err)
		return
	}
	s.tracker.Complete(runID)

	// The response is rendered from this run's report, never re-read from
	// the history directory.
	setAttachment(w, name, int64(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		s.log.Warn().Err(err).Str("report", name).Msg("failed to send report")
	}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	s.tracker.ServeEvents(w, r, mux.Vars(r)["run"])
}

func (s *Server) handleListReports(w http.ResponseWriter, _ *http.Request) {
	entries, err := s.history.List()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleDownloadReport(w http.ResponseWriter, r *http.Request) {
	s.serveReport(w, r, mux.Vars(r)["name"])
}

func (s *Server) handleReportSummary(w http.ResponseWriter, r *http.Request) {
	items, err := s.history.Summary(mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) serveReport(w http.ResponseWriter, r *http.Request, name string) {
	f, err := s.history.Open(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.writeError(w, err)
		return
	}
	setAttachment(w, name, info.Size())
	if _, err := io.Copy(w, f); err != nil {
		s.log.Warn().Err(err).Str("report", name).Msg("failed to send report")
	}
}

func setAttachment(w http.ResponseWriter, name string, size int64) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
}

// badRequest marks client errors that do not wrap a domain error.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return tooLarge
		}
		return badRequest{msg: fmt.Sprintf("invalid multipart form: %v", err)}
	}
	return nil
}

func formMapping(r *http.Request, field string) (domain.ColumnMapping, error) {
	raw := r.FormValue(field)
	if raw == "" {
		return nil, badRequest{msg: field + " is required"}
	}
	var mapping domain.ColumnMapping
	if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
		return nil, badRequest{msg: fmt.Sprintf("%s is not a valid column mapping: %v", field, err)}
	}
	return mapping, nil
}

// spoolUpload copies the uploaded file of field into dir and returns its path
// and original name.
func spoolUpload(r *http.Request, field, dir string) (string, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", "", badRequest{msg: field + " is required"}
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !gateway.SupportedFile(name) {
		return "", "", badRequest{msg: fmt.Sprintf("%s: only .xlsx, .xls and .csv files are accepted", field)}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	path := filepath.Join(dir, name)
	if err := copyUpload(file, path); err != nil {
		return "", "", fmt.Errorf("failed to store upload %s: %w", name, err)
	}
	return path, name, nil
}

func copyUpload(src multipart.File, path string) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

type errorResponse struct {
	Error string `json:"error"`
	Phase string `json:"phase,omitempty"`
	RunID string `json:"run_id,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var runErr *domain.RunError
	if errors.As(err, &runErr) {
		resp.Phase = string(runErr.Phase)
		resp.RunID = runErr.RunID
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	var (
		bad      badRequest
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &bad), errors.Is(err, gateway.ErrInvalidReportName):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, gateway.ErrReportNotFound):
		return http.StatusNotFound
	case errors.Is(err, errRunIDInUse):
		return http.StatusConflict
	case errors.Is(err, domain.ErrFileFormat), errors.Is(err, domain.ErrMissingColumn):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled):
		return 499
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
