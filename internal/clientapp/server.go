package clientapp

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	"github.com/phillip-england/nutrisurvey/internal/middleware"
	"github.com/phillip-england/nutrisurvey/internal/survey"
	"github.com/phillip-england/nutrisurvey/internal/wizard"
)

const (
	sessionCookieName     = "nutrisurvey_session"
	defaultMaxUploadBytes = 10 << 20
	sessionIdleLimit      = 12 * time.Hour
	sessionPruneInterval  = 10 * time.Minute
)

// Store is everything the wizard UI needs from the remote store.
type Store interface {
	wizard.Store
	ListSubjects(ctx context.Context) ([]survey.Subject, error)
	Report(ctx context.Context, subjectID string) ([]byte, error)
}

type Config struct {
	Addr        string
	PhotoPolicy string
	Location    *time.Location
	CSRFKey     []byte
	Secure      bool
	// PhotoOrigin is added to the img-src policy so stored photos render.
	PhotoOrigin    string
	MaxUploadBytes int64
	// Photos serves stored photos under PhotosPath from this process. It is
	// only set when the store has no HTTP surface of its own.
	Photos       http.Handler
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// PhotosPath is where Config.Photos is mounted.
const PhotosPath = "/photos/"

//go:embed templates/partials.html templates/dashboard.html templates/portions.html templates/waste.html templates/summary.html assets/app.css
var templatesFS embed.FS

type server struct {
	store          Store
	controller     *wizard.Controller
	sessions       *wizard.Sessions
	secure         bool
	photoOrigin    string
	photos         http.Handler
	maxUploadBytes int64
	logger         *zap.Logger
	dashboardTmpl  *template.Template
	portionsTmpl   *template.Template
	wasteTmpl      *template.Template
	summaryTmpl    *template.Template
}

func parsePage(name string) *template.Template {
	return template.Must(template.New(name).Funcs(templateFuncs).ParseFS(templatesFS, "templates/"+name, "templates/partials.html"))
}

func newServer(cfg Config, store Store) (*server, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	loc := cfg.Location
	clock := func() time.Time { return time.Now().In(loc) }

	policy, err := wizard.NewPolicy(cfg.PhotoPolicy, store, clock)
	if err != nil {
		return nil, err
	}
	return &server{
		store:          store,
		controller:     wizard.NewController(store, policy, clock, cfg.Logger.Named("wizard")),
		sessions:       wizard.NewSessions(),
		secure:         cfg.Secure,
		photoOrigin:    strings.TrimRight(cfg.PhotoOrigin, "/"),
		photos:         cfg.Photos,
		maxUploadBytes: cfg.MaxUploadBytes,
		logger:         cfg.Logger,
		dashboardTmpl:  parsePage("dashboard.html"),
		portionsTmpl:   parsePage("portions.html"),
		wasteTmpl:      parsePage("waste.html"),
		summaryTmpl:    parsePage("summary.html"),
	}, nil
}

func Run(ctx context.Context, cfg Config, store Store) error {
	if len(cfg.CSRFKey) != 32 {
		return errors.New("csrf key must be 32 bytes")
	}
	s, err := newServer(cfg, store)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.protected(cfg.CSRFKey),
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	go s.pruneSessions(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("client listening",
			zap.String("url", "http://localhost"+cfg.Addr),
			zap.String("photo_policy", s.controller.Policy().Name()),
		)
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

func (s *server) pruneSessions(ctx context.Context) {
	ticker := time.NewTicker(sessionPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.Prune(sessionIdleLimit); n > 0 {
				s.logger.Info("pruned idle sessions", zap.Int("count", n))
			}
		}
	}
}

// protected wraps routes with CSRF checks on every unsafe request.
func (s *server) protected(key []byte) http.Handler {
	protect := csrf.Protect(key,
		csrf.Secure(s.secure),
		csrf.Path("/"),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.logger.Warn("csrf check failed", zap.String("path", r.URL.Path), zap.Error(csrf.FailureReason(r)))
			http.Error(w, "invalid or missing form token, reload the page and try again", http.StatusForbidden)
		})),
	)
	return protect(s.routes())
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", http.HandlerFunc(s.dashboardPage))
	mux.Handle("/survey/start", http.HandlerFunc(s.startSurvey))
	mux.Handle("/survey/", http.HandlerFunc(s.surveyRoutes))
	mux.Handle("/assets/app.css", http.HandlerFunc(s.appCSSFile))
	if s.photos != nil {
		mux.Handle(PhotosPath, s.photos)
	}

	imgSrc := "img-src 'self' data: blob:"
	if s.photoOrigin != "" {
		imgSrc += " " + s.photoOrigin
	}
	csp := strings.Join([]string{
		"default-src 'self'",
		"style-src 'self' 'unsafe-inline'",
		imgSrc,
		"script-src 'self' 'unsafe-inline'",
		"form-action 'self'",
		"frame-ancestors 'none'",
	}, "; ")

	return middleware.Chain(
		mux,
		middleware.RequestLogger(s.logger),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: csp}),
	)
}

// session returns the browser's draft registry entry, issuing a session
// cookie on first contact.
func (s *server) session(w http.ResponseWriter, r *http.Request) *wizard.Session {
	id := ""
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if parsed, err := uuid.Parse(cookie.Value); err == nil {
			id = parsed.String()
		}
	}
	if id == "" {
		id = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			Secure:   s.secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return s.sessions.Session(id)
}

func (s *server) dashboardPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := s.session(w, r)
	sess.Lock()
	current := sess.Current()
	sess.Unlock()

	data := pageData{
		Error:   r.URL.Query().Get("error"),
		Message: r.URL.Query().Get("message"),
		CSRF:    csrf.TemplateField(r),
		Current: current,
		Policy:  s.controller.Policy().Name(),
	}
	subjects, err := s.store.ListSubjects(r.Context())
	if err != nil {
		s.logger.Warn("list subjects failed", zap.Error(err))
		if data.Error == "" {
			data.Error = "Roster could not be loaded: " + err.Error()
		}
	}
	data.Subjects = subjectRows(subjects, current)

	if err := renderHTMLTemplate(w, s.dashboardTmpl, data); err != nil {
		http.Error(w, "template render failed", http.StatusInternalServerError)
		s.logger.Error("dashboard template render failed", zap.Error(err))
	}
}

func (s *server) startSurvey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		redirectWith(w, r, "/", "error", "Invalid form submission")
		return
	}
	subjectID := strings.TrimSpace(r.FormValue("subject_id"))
	surveyorID := strings.TrimSpace(r.FormValue("surveyor_id"))
	facilityID := strings.TrimSpace(r.FormValue("facility_id"))
	if subjectID == "" || surveyorID == "" {
		redirectWith(w, r, "/", "error", "Subject and surveyor are required")
		return
	}
	if strings.Contains(subjectID, "/") {
		redirectWith(w, r, "/", "error", "Subject id may not contain '/'")
		return
	}
	if facilityID == "" {
		facilityID = s.rosterFacility(r.Context(), subjectID)
	}

	sess := s.session(w, r)
	sess.Lock()
	st := s.controller.Enter(r.Context(), subjectID, surveyorID, facilityID)
	sess.Begin(st)
	sess.Unlock()

	s.logger.Info("survey opened", zap.String("subject", subjectID), zap.String("surveyor", surveyorID))
	http.Redirect(w, r, surveyPath(subjectID), http.StatusFound)
}

func (s *server) rosterFacility(ctx context.Context, subjectID string) string {
	subjects, err := s.store.ListSubjects(ctx)
	if err != nil {
		return ""
	}
	for _, subject := range subjects {
		if subject.ID == subjectID {
			return subject.FacilityID
		}
	}
	return ""
}

func (s *server) surveyRoutes(w http.ResponseWriter, r *http.Request) {
	parts, ok := pathParts(r, "/survey/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	subjectID := parts[0]
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.surveyPage(w, r, subjectID)
	case len(parts) == 1 && r.Method == http.MethodPost:
		s.surveyAction(w, r, subjectID)
	case len(parts) == 2 && parts[1] == "report.xlsx" && r.Method == http.MethodGet:
		s.surveyReport(w, r, subjectID)
	case len(parts) <= 2:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	default:
		http.NotFound(w, r)
	}
}

func (s *server) surveyPage(w http.ResponseWriter, r *http.Request, subjectID string) {
	sess := s.session(w, r)
	sess.Lock()
	defer sess.Unlock()

	st, ok := sess.Draft(subjectID)
	if !ok {
		redirectWith(w, r, "/", "error", "No survey in progress for "+subjectID)
		return
	}

	data := pageData{
		Error:   r.URL.Query().Get("error"),
		Message: r.URL.Query().Get("message"),
		Notice:  st.Notice,
		CSRF:    csrf.TemplateField(r),
		Current: sess.Current(),
		Policy:  s.controller.Policy().Name(),
		Draft:   newDraftView(st),
	}
	var tmpl *template.Template
	switch st.Page {
	case wizard.PagePortions:
		tmpl = s.portionsTmpl
	case wizard.PageWaste:
		tmpl = s.wasteTmpl
	case wizard.PageSummary:
		tmpl = s.summaryTmpl
	default:
		sess.Discard(subjectID)
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if err := renderHTMLTemplate(w, tmpl, data); err != nil {
		http.Error(w, "template render failed", http.StatusInternalServerError)
		s.logger.Error("survey template render failed", zap.String("page", st.Page.String()), zap.Error(err))
		return
	}
	st.Notice = ""
}

// surveyAction applies one page post: field values first, then photo picks
// and deletions, then the navigation button.
func (s *server) surveyAction(w http.ResponseWriter, r *http.Request, subjectID string) {
	here := surveyPath(subjectID)
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes*int64(2*len(survey.AllSlots()))+(2<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		redirectWith(w, r, here, "error", "Invalid form submission")
		return
	}

	sess := s.session(w, r)
	sess.Lock()
	defer sess.Unlock()

	st, ok := sess.Draft(subjectID)
	if !ok {
		redirectWith(w, r, "/", "error", "No survey in progress for "+subjectID)
		return
	}

	nav := strings.TrimSpace(r.FormValue("nav"))
	if nav == "dashboard" {
		sess.Discard(subjectID)
		s.logger.Info("survey closed without saving", zap.String("subject", subjectID))
		redirectWith(w, r, "/", "message", "Survey for "+subjectID+" closed without saving")
		return
	}

	switch st.Page {
	case wizard.PagePortions:
		s.controller.UpdatePortions(st, parsePortions(r))
	case wizard.PageWaste:
		s.controller.UpdateRatings(st, parseRatings(r))
	}

	if err := s.applyPhotoChanges(r, st); err != nil {
		s.logger.Warn("photo change failed", zap.String("subject", subjectID), zap.Error(err))
		redirectWith(w, r, here, "error", err.Error())
		return
	}

	switch nav {
	case "", "save":
		redirectWith(w, r, here, "message", "Saved to draft")
	case "next":
		if err := s.controller.Next(st); err != nil {
			redirectWith(w, r, here, "error", err.Error())
			return
		}
		http.Redirect(w, r, here, http.StatusFound)
	case "back":
		if err := s.controller.Back(st); err != nil {
			redirectWith(w, r, here, "error", err.Error())
			return
		}
		http.Redirect(w, r, here, http.StatusFound)
	case "submit":
		result, err := s.controller.Submit(r.Context(), st)
		if err != nil {
			s.logger.Error("survey submission failed", zap.String("subject", subjectID), zap.Error(err))
			redirectWith(w, r, here, "error", err.Error())
			return
		}
		sess.Discard(subjectID)
		redirectWith(w, r, "/", "message", submitMessage(subjectID, result))
	default:
		redirectWith(w, r, here, "error", "Unknown action "+nav)
	}
}

func (s *server) applyPhotoChanges(r *http.Request, st *wizard.State) error {
	if target := strings.TrimSpace(r.FormValue("delete_photo")); target != "" {
		kind, slot, err := parsePhotoTarget(target)
		if err != nil {
			return err
		}
		if err := s.controller.RemovePhoto(r.Context(), st, kind, slot); err != nil {
			return err
		}
	}
	picks, err := photoPicks(r, s.maxUploadBytes)
	if err != nil {
		return err
	}
	for _, pick := range picks {
		if err := s.controller.SelectPhoto(r.Context(), st, pick.kind, pick.slot, pick.file); err != nil {
			if errors.Is(err, wizard.ErrEmptyFile) {
				return errors.New(pick.kind.Label() + " photo for " + pick.slot.String() + ": " + err.Error())
			}
			return err
		}
	}
	return nil
}

func (s *server) surveyReport(w http.ResponseWriter, r *http.Request, subjectID string) {
	data, err := s.store.Report(r.Context(), subjectID)
	if err != nil {
		s.logger.Warn("report download failed", zap.String("subject", subjectID), zap.Error(err))
		redirectWith(w, r, "/", "error", "Report unavailable: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=\"nutrition_"+subjectID+".xlsx\"")
	_, _ = w.Write(data)
}

func (s *server) appCSSFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := templatesFS.ReadFile("assets/app.css")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "private, max-age=300")
	_, _ = w.Write(data)
}

func surveyPath(subjectID string) string {
	return "/survey/" + url.PathEscape(subjectID)
}

func redirectWith(w http.ResponseWriter, r *http.Request, path, key, message string) {
	http.Redirect(w, r, path+"?"+url.Values{key: {message}}.Encode(), http.StatusFound)
}

// pathParts unescapes each segment of the raw path after prefix exactly once.
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

func renderHTMLTemplate(w http.ResponseWriter, tmpl *template.Template, data pageData) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := w.Write(buf.Bytes())
	return err
}
