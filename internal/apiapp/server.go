package apiapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/phillip-england/nutrisurvey/internal/middleware"
	"github.com/phillip-england/nutrisurvey/internal/report"
	"github.com/phillip-england/nutrisurvey/internal/survey"
)

const (
	defaultMaxUploadBytes = 10 << 20
	storagePrefix         = "/api/storage/"
)

type Config struct {
	Addr string
	// DBPath is the sqlite database file.
	DBPath string
	// PublicBaseURL prefixes photo URLs handed back to clients. When empty
	// the request's own scheme and host are used.
	PublicBaseURL  string
	MaxUploadBytes int64
	Logger         *zap.Logger
}

type server struct {
	store          *sqliteStore
	publicBaseURL  string
	maxUploadBytes int64
	logger         *zap.Logger
}

type progressUpdateRequest struct {
	Completed   *bool  `json:"nutrition_survey_completed"`
	LastUpdated string `json:"last_updated"`
}

func newServer(ctx context.Context, cfg Config) (*server, error) {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	store, err := openSQLiteStore(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return &server{
		store:          store,
		publicBaseURL:  strings.TrimRight(cfg.PublicBaseURL, "/"),
		maxUploadBytes: cfg.MaxUploadBytes,
		logger:         cfg.Logger,
	}, nil
}

func Run(ctx context.Context, cfg Config) error {
	s, err := newServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.store.Close()

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("url", "http://localhost"+cfg.Addr), zap.String("db", cfg.DBPath))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/health", http.HandlerFunc(s.health))
	mux.Handle("/api/surveys", http.HandlerFunc(s.surveysHandler))
	mux.Handle("/api/surveys/", http.HandlerFunc(s.surveyBySubjectHandler))
	mux.Handle("/api/progress/", http.HandlerFunc(s.progressHandler))
	mux.Handle("/api/subjects", http.HandlerFunc(s.subjectsHandler))
	mux.Handle("/api/subjects/import", http.HandlerFunc(s.importSubjects))
	mux.Handle(storagePrefix, http.HandlerFunc(s.storageHandler))

	csp := strings.Join([]string{
		"default-src 'none'",
		"img-src 'self'",
		"frame-ancestors 'none'",
	}, "; ")

	return middleware.Chain(
		mux,
		middleware.RequestLogger(s.logger),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{
			ContentSecurityPolicy: csp,
			// Photos are embedded by the wizard served from another origin.
			CrossOriginResourcePolicy: "cross-origin",
		}),
	)
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) surveysHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rows, err := s.store.listSurveys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unable to list surveys")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"surveys": rows})
}

func (s *server) surveyBySubjectHandler(w http.ResponseWriter, r *http.Request) {
	parts, ok := pathParts(r, "/api/surveys/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	elderlyID := parts[0]

	if len(parts) == 2 && parts[1] == "report.xlsx" {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.surveyReport(w, r, elderlyID)
		return
	}
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getSurvey(w, r, elderlyID)
	case http.MethodPost:
		s.createSurvey(w, r, elderlyID)
	case http.MethodPut:
		s.updateSurvey(w, r, elderlyID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) getSurvey(w http.ResponseWriter, r *http.Request, elderlyID string) {
	row, err := s.store.getSurvey(r.Context(), elderlyID)
	if err != nil {
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, "survey not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "unable to load survey")
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *server) createSurvey(w http.ResponseWriter, r *http.Request, elderlyID string) {
	row, err := decodeSurveyRow(r, elderlyID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var id int64
	err = withSQLiteRetry(func() error {
		var insertErr error
		id, insertErr = s.store.insertSurvey(r.Context(), row)
		return insertErr
	})
	if err != nil {
		if errors.Is(err, errConflict) {
			writeError(w, http.StatusConflict, "survey already exists for "+elderlyID)
			return
		}
		s.logger.Error("insert survey failed", zap.String("subject", elderlyID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to save survey: "+err.Error())
		return
	}
	row.ID = id
	writeJSON(w, http.StatusCreated, row)
}

func (s *server) updateSurvey(w http.ResponseWriter, r *http.Request, elderlyID string) {
	row, err := decodeSurveyRow(r, elderlyID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := withSQLiteRetry(func() error {
		return s.store.updateSurvey(r.Context(), row)
	}); err != nil {
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, "survey not found")
			return
		}
		s.logger.Error("update survey failed", zap.String("subject", elderlyID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to save survey: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "survey updated"})
}

func decodeSurveyRow(r *http.Request, elderlyID string) (survey.Row, error) {
	var row survey.Row
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&row); err != nil {
		return survey.Row{}, errors.New("invalid json body")
	}
	if row.ElderlyID == "" {
		row.ElderlyID = elderlyID
	}
	if row.ElderlyID != elderlyID {
		return survey.Row{}, errors.New("elderly_id does not match path")
	}
	return row, nil
}

func (s *server) surveyReport(w http.ResponseWriter, r *http.Request, elderlyID string) {
	row, err := s.store.getSurvey(r.Context(), elderlyID)
	if err != nil {
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, "survey not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "unable to load survey")
		return
	}
	record, decodeErr := survey.DecodeRecord(row)
	if decodeErr != nil {
		s.logger.Warn("malformed survey mapping treated as empty", zap.String("subject", elderlyID), zap.Error(decodeErr))
	}
	subject, err := s.store.getSubject(r.Context(), elderlyID)
	if err != nil && !errors.Is(err, errNotFound) {
		writeError(w, http.StatusInternalServerError, "unable to load subject")
		return
	}
	data, err := report.Build(subject, record)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unable to build report")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "nutrition_"+elderlyID+".xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *server) progressHandler(w http.ResponseWriter, r *http.Request) {
	parts, ok := pathParts(r, "/api/progress/")
	if !ok || len(parts) != 1 {
		http.NotFound(w, r)
		return
	}
	elderlyID := parts[0]

	switch r.Method {
	case http.MethodGet:
		progress, err := s.store.getProgress(r.Context(), elderlyID)
		if err != nil {
			if errors.Is(err, errNotFound) {
				writeError(w, http.StatusNotFound, "progress not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "unable to load progress")
			return
		}
		writeJSON(w, http.StatusOK, progress)
	case http.MethodPatch:
		var req progressUpdateRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if req.Completed == nil {
			writeError(w, http.StatusBadRequest, "nutrition_survey_completed is required")
			return
		}
		var updated int64
		err := withSQLiteRetry(func() error {
			var updateErr error
			updated, updateErr = s.store.updateProgress(r.Context(), elderlyID, *req.Completed, req.LastUpdated)
			return updateErr
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "unable to update progress: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) subjectsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	subjects, err := s.store.listSubjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unable to list subjects")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subjects": subjects})
}

func (s *server) importSubjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, _, fileName, err := parseUploadedFileWithField(r, "roster_file", s.maxUploadBytes, nil, "roster file is required")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext != ".xls" && ext != ".xlsx" {
		writeError(w, http.StatusBadRequest, "roster must be an .xls or .xlsx file")
		return
	}
	rows, err := readRosterRows(data, fileName)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read roster: "+err.Error())
		return
	}
	subjects, err := parseRosterRows(rows)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var imported int
	if err := withSQLiteRetry(func() error {
		var importErr error
		imported, importErr = s.store.upsertSubjects(r.Context(), subjects)
		return importErr
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "unable to import roster: "+err.Error())
		return
	}
	s.logger.Info("roster imported", zap.String("file", fileName), zap.Int("subjects", imported))
	writeJSON(w, http.StatusOK, map[string]int{"imported": imported})
}

func (s *server) storageHandler(w http.ResponseWriter, r *http.Request) {
	parts, ok := pathParts(r, storagePrefix)
	if !ok || len(parts) != 2 || parts[0] != survey.Bucket {
		http.NotFound(w, r)
		return
	}
	bucket, name := parts[0], parts[1]

	switch r.Method {
	case http.MethodGet:
		obj, err := s.store.getObject(r.Context(), bucket, name)
		if err != nil {
			if errors.Is(err, errNotFound) {
				http.NotFound(w, r)
				return
			}
			writeError(w, http.StatusInternalServerError, "unable to load object")
			return
		}
		w.Header().Set("Content-Type", obj.Mime)
		w.Header().Set("Cache-Control", "private, max-age=300")
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
		_, _ = w.Write(obj.Data)
	case http.MethodPost:
		data, mime, _, err := parseUploadedFileWithField(r, "file", s.maxUploadBytes, nil, "file is required")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := withSQLiteRetry(func() error {
			return s.store.putObject(r.Context(), bucket, storedObject{Name: name, Mime: mime, Data: data})
		}); err != nil {
			writeError(w, http.StatusInternalServerError, "unable to store object: "+err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{
			"name":      name,
			"publicUrl": s.publicURL(r, bucket, name),
		})
	case http.MethodDelete:
		if err := withSQLiteRetry(func() error {
			return s.store.deleteObject(r.Context(), bucket, name)
		}); err != nil {
			if errors.Is(err, errNotFound) {
				writeError(w, http.StatusNotFound, "object not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "unable to delete object")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "object deleted"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) publicURL(r *http.Request, bucket, name string) string {
	base := s.publicBaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + storagePrefix + bucket + "/" + url.PathEscape(name)
}

// pathParts splits the escaped path after prefix and unescapes each segment
// once. It reports false when nothing follows the prefix.
func pathParts(r *http.Request, prefix string) ([]string, bool) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.EscapedPath(), prefix), "/")
	if trimmed == "" {
		return nil, false
	}
	parts := strings.Split(trimmed, "/")
	for i, part := range parts {
		unescaped, err := url.PathUnescape(part)
		if err != nil || strings.TrimSpace(unescaped) == "" {
			return nil, false
		}
		parts[i] = unescaped
	}
	return parts, true
}

func parseUploadedFileWithField(r *http.Request, fieldName string, maxBytes int64, allowedMimes []string, requiredMessage string) ([]byte, string, string, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	if err := r.ParseMultipartForm(maxBytes + (2 << 20)); err != nil {
		return nil, "", "", errors.New("invalid upload form")
	}
	file, header, err := r.FormFile(fieldName)
	if err != nil {
		return nil, "", "", errors.New(requiredMessage)
	}
	defer file.Close()
	raw, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, "", "", errors.New("unable to read uploaded file")
	}
	if int64(len(raw)) > maxBytes {
		return nil, "", "", fmt.Errorf("file too large: limit is %d bytes", maxBytes)
	}
	if len(raw) == 0 {
		return nil, "", "", errors.New("uploaded file is empty")
	}
	detected := http.DetectContentType(raw)
	if len(allowedMimes) > 0 {
		ok := false
		for _, allowed := range allowedMimes {
			if strings.EqualFold(strings.TrimSpace(allowed), detected) {
				ok = true
				break
			}
		}
		if !ok {
			return nil, "", "", errors.New("unsupported file type")
		}
	}
	fileName := strings.TrimSpace(header.Filename)
	if fileName == "" {
		fileName = fieldName + ".bin"
	}
	return raw, detected, fileName, nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
