package viewer

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/kapiw0n/terraform-log-viewer/tflog"
)

const (
	sessionCookie   = "session_id"
	uploadField     = "log_file"
	formMemory      = 32 << 20
	multipartSlack  = 1 << 20
	sessionLifetime = 30 * 24 * 3600
)

// ErrBadRequest marks malformed requests.
var ErrBadRequest = errors.New("bad request")

type ServerOptions struct {
	MaxUploadBytes int64
	// DefaultPageSize applies when a request has no page_size.
	DefaultPageSize int
}

// Server exposes a Service over HTTP.
type Server struct {
	engine *gin.Engine
	svc    *Service
	opts   ServerOptions
}

func NewServer(svc *Service, opts ServerOptions) *Server {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = tflog.DefaultPageSize
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false

	s := &Server{engine: engine, svc: svc, opts: opts}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	for _, p := range []string{"/upload/", "/logs/", "/logs/json-bodies/"} {
		s.engine.POST(p, s.handlePost)
	}
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.WithField("addr", addr).Info("server listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		entry := log.WithFields(log.Fields{
			"request_id": id,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
		})
		start := time.Now()
		entry.Debug("request started")
		c.Next()
		entry.WithFields(log.Fields{
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Info("request served")
	}
}

// handlePost dispatches like the upload form: a log_file part means upload, otherwise
// the action field picks the operation.
func (s *Server) handlePost(c *gin.Context) {
	if s.opts.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes+multipartSlack)
	}
	if err := parseForm(c.Request); err != nil {
		s.fail(c, err)
		return
	}
	session := s.session(c)

	if fh, err := c.FormFile(uploadField); err == nil {
		s.upload(c, session, fh)
		return
	}

	switch c.PostForm("action") {
	case "get_logs":
		s.getLogs(c, session)
	case "get_json_bodies":
		s.getJSONBodies(c, session)
	case "clear_data":
		s.clearData(c, session)
	case "get_statistics":
		s.getStatistics(c, session)
	case "get_session":
		c.JSON(http.StatusOK, gin.H{"session_id": session})
	default:
		s.fail(c, fmt.Errorf("%w: invalid request", ErrBadRequest))
	}
}

func parseForm(r *http.Request) error {
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err = r.ParseMultipartForm(formMemory)
	} else {
		err = r.ParseForm()
	}
	if err == nil {
		return nil
	}
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return fmt.Errorf("%w: request body over %d bytes", ErrTooLarge, tooBig.Limit)
	}
	return fmt.Errorf("%w: %v", ErrBadRequest, err)
}

// session resolves the caller's session from the cookie or the form, minting one if
// neither is set, and refreshes the cookie.
func (s *Server) session(c *gin.Context) string {
	id, err := c.Cookie(sessionCookie)
	if err != nil || id == "" {
		id = c.PostForm(sessionCookie)
	}
	if id == "" {
		id = uuid.NewString()
	}
	c.SetCookie(sessionCookie, id, sessionLifetime, "/", "", false, true)
	return id
}

func (s *Server) upload(c *gin.Context, session string, fh *multipart.FileHeader) {
	f, err := fh.Open()
	if err != nil {
		s.fail(c, err)
		return
	}
	defer f.Close()

	res, err := s.svc.Ingest(c.Request.Context(), session, fh.Filename, f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"message":    fmt.Sprintf("File processed. Entries: %d", res.File.EntryCount),
		"count":      res.File.EntryCount,
		"statistics": res.Statistics,
		"file_id":    res.File.ID,
		"session_id": session,
		"filename":   res.File.Filename,
		"duplicate":  res.Duplicate,
	})
}

func (s *Server) getLogs(c *gin.Context, session string) {
	fileID := c.PostForm("file_id")
	pageSize := c.PostForm("page_size")
	if pageSize == "" {
		pageSize = fmt.Sprint(s.opts.DefaultPageSize)
	}
	page, size, err := tflog.ParsePaging(c.PostForm("page"), pageSize)
	if err != nil {
		s.fail(c, err)
		return
	}
	f := tflog.Filter{
		Level:         c.PostForm("level"),
		Operation:     c.PostForm("operation"),
		Component:     c.PostForm("component"),
		ReqID:         c.PostForm("req_id"),
		SearchText:    c.PostForm("search_text"),
		RawDataSearch: c.PostForm("raw_data_search"),
		BodyFilter:    tflog.BodyFilter(c.PostForm("body_filter")),
		TimeFrom:      c.PostForm("time_from"),
		TimeTo:        c.PostForm("time_to"),
		Page:          page,
		PageSize:      size,
	}
	if err := f.Validate(); err != nil {
		s.fail(c, err)
		return
	}
	if fileID == "" {
		c.JSON(http.StatusOK, gin.H{"logs": []any{}, "total_count": 0, "current_file": nil})
		return
	}

	out, err := s.svc.Logs(c.Request.Context(), session, fileID, f)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"logs": []any{}, "total_count": 0, "current_file": nil})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getJSONBodies(c *gin.Context, session string) {
	fileID, logID := c.PostForm("file_id"), c.PostForm("log_id")
	if fileID == "" || logID == "" {
		c.JSON(http.StatusOK, gin.H{"json_bodies": []any{}})
		return
	}
	bodies, err := s.svc.Bodies(c.Request.Context(), session, fileID, logID)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"json_bodies": []any{}})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"json_bodies": bodies})
}

func (s *Server) getStatistics(c *gin.Context, session string) {
	fileID := c.PostForm("file_id")
	if fileID == "" {
		c.JSON(http.StatusOK, gin.H{"statistics": gin.H{}})
		return
	}
	stats, err := s.svc.Statistics(c.Request.Context(), session, fileID)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"statistics": gin.H{}})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"statistics": stats})
}

func (s *Server) clearData(c *gin.Context, session string) {
	n, err := s.svc.Clear(c.Request.Context(), session, c.PostForm("file_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Data cleared", "files": n})
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
	}
	c.AbortWithStatusJSON(code, gin.H{"status": "error", "message": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, tflog.ErrInvalidFilter), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
