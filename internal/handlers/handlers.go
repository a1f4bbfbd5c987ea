package handlers

import (
	"embed"
	"errors"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/fruit-check/internal/auth"
	"github.com/example/fruit-check/internal/classifier"
	"github.com/example/fruit-check/internal/logging"
	"github.com/example/fruit-check/internal/upload"
	"github.com/example/fruit-check/internal/usecase"
	"github.com/example/fruit-check/internal/view"
)

// MaxUploadSize bounds a multipart request body: the image limit plus room for form framing.
const MaxUploadSize = upload.MaxSize + 1<<20

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.New("").Funcs(template.FuncMap{
	"dataURL": dataURL,
}).ParseFS(templateFS, "templates/*.html"))

// Only previews built from accepted image bytes reach the template.
func dataURL(s string) template.URL {
	if !strings.HasPrefix(s, "data:image/") {
		return ""
	}
	return template.URL(s)
}

type pageData struct {
	Page   view.Page
	Accept string
	MaxMiB int
}

type uploadError struct {
	status  int
	message string
	err     error
}

func (e *uploadError) Error() string { return e.message }
func (e *uploadError) Unwrap() error { return e.err }

// RegisterRoutes wires the HTML page, the JSON API and health checks to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.AnalysisUseCase, sessionMiddleware gin.HandlerFunc, logger *zap.Logger) {
	h := &handler{uc: uc, logger: logger.Named("handlers")}
	router.SetHTMLTemplate(pageTemplate)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/api/metrics", h.metrics)

	page := router.Group("/", sessionMiddleware)
	page.GET("/", h.renderPage)
	page.POST("/upload", limitBody(), h.submitUpload)
	page.POST("/analyze", h.submitAnalyze)
	page.POST("/reset", h.submitReset)

	api := router.Group("/api/session", sessionMiddleware)
	api.GET("", h.getSession)
	api.POST("/image", limitBody(), h.postImage)
	api.POST("/analyze", h.postAnalyze)
	api.DELETE("", h.deleteSession)
}

type handler struct {
	uc     *usecase.AnalysisUseCase
	logger *zap.Logger
}

func limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize)
		c.Next()
	}
}

func (h *handler) renderPage(c *gin.Context) {
	h.respondPage(c, http.StatusOK, nil)
}

func (h *handler) respondPage(c *gin.Context, status int, extra *usecase.Notification) {
	sessionID := auth.SessionFromGin(c)
	snap, err := h.uc.TakeNotifications(c.Request.Context(), sessionID)
	if err != nil {
		h.internalError(c, "load session", sessionID, err)
		return
	}
	if extra != nil {
		snap.Notifications = append(snap.Notifications, *extra)
	}
	c.HTML(status, "index.html", pageData{
		Page:   view.Build(snap),
		Accept: strings.Join(upload.AcceptedExtensions(), ","),
		MaxMiB: upload.MaxSize >> 20,
	})
}

func (h *handler) submitUpload(c *gin.Context) {
	sessionID := auth.SessionFromGin(c)
	accepted, err := readUpload(c)
	if err != nil {
		var upErr *uploadError
		if errors.As(err, &upErr) {
			h.logRejected(sessionID, upErr)
			h.respondPage(c, upErr.status, &usecase.Notification{Level: "error", Message: upErr.message})
			return
		}
		h.internalError(c, "read upload", sessionID, err)
		return
	}

	if _, err := h.uc.SelectImage(c.Request.Context(), sessionID, toImage(accepted), accepted.Width, accepted.Height); err != nil {
		h.internalError(c, "select image", sessionID, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *handler) submitAnalyze(c *gin.Context) {
	sessionID := auth.SessionFromGin(c)
	if _, _, err := h.uc.Analyze(c.Request.Context(), sessionID); err != nil {
		h.internalError(c, "analyze", sessionID, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *handler) submitReset(c *gin.Context) {
	sessionID := auth.SessionFromGin(c)
	if _, err := h.uc.Reset(c.Request.Context(), sessionID); err != nil {
		h.internalError(c, "reset", sessionID, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *handler) getSession(c *gin.Context) {
	sessionID := auth.SessionFromGin(c)
	snap, err := h.uc.TakeNotifications(c.Request.Context(), sessionID)
	if err != nil {
		h.internalError(c, "load session", sessionID, err)
		return
	}
	c.JSON(http.StatusOK, view.Build(snap))
}

func (h *handler) postImage(c *gin.Context) {
	sessionID := auth.SessionFromGin(c)
	accepted, err := readUpload(c)
	if err != nil {
		var upErr *uploadError
		if errors.As(err, &upErr) {
			h.logRejected(sessionID, upErr)
			c.JSON(upErr.status, gin.H{"error": upErr.message})
			return
		}
		h.internalError(c, "read upload", sessionID, err)
		return
	}

	snap, err := h.uc.SelectImage(c.Request.Context(), sessionID, toImage(accepted), accepted.Width, accepted.Height)
	if err != nil {
		h.internalError(c, "select image", sessionID, err)
		return
	}
	c.JSON(http.StatusOK, view.Build(snap))
}

func (h *handler) postAnalyze(c *gin.Context) {
	sessionID := auth.SessionFromGin(c)
	started, snap, err := h.uc.Analyze(c.Request.Context(), sessionID)
	if err != nil {
		h.internalError(c, "analyze", sessionID, err)
		return
	}
	status := http.StatusAccepted
	if !started {
		status = http.StatusConflict
	}
	c.JSON(status, view.Build(snap))
}

func (h *handler) deleteSession(c *gin.Context) {
	sessionID := auth.SessionFromGin(c)
	snap, err := h.uc.Reset(c.Request.Context(), sessionID)
	if err != nil {
		h.internalError(c, "reset", sessionID, err)
		return
	}
	c.JSON(http.StatusOK, view.Build(snap))
}

func (h *handler) metrics(c *gin.Context) {
	summary, err := h.uc.GetMetricsSummary(c.Request.Context())
	if errors.Is(err, usecase.ErrHistoryDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.internalError(c, "metrics", "", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handler) logRejected(sessionID string, err *uploadError) {
	logging.WithOperation(h.logger, "handlers.upload", sessionID).Info("upload rejected",
		zap.Int("status", err.status), zap.Error(err.err))
}

func (h *handler) internalError(c *gin.Context, action, sessionID string, err error) {
	logging.WithOperation(h.logger, "handlers."+strings.ReplaceAll(action, " ", "_"), sessionID).
		Error("request failed", zap.Error(err))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to " + action})
}

// readUpload applies the upload filter to each file of the "file" field in order and
// returns the first one accepted. When none passes, the first file's rejection is reported.
func readUpload(c *gin.Context) (*upload.Accepted, error) {
	form, err := c.MultipartForm()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, &uploadError{status: http.StatusRequestEntityTooLarge, message: "image exceeds 10MB", err: err}
		}
		return nil, &uploadError{status: http.StatusBadRequest, message: "image file is required", err: err}
	}

	files := form.File["file"]
	if len(files) == 0 {
		return nil, &uploadError{status: http.StatusBadRequest, message: "image file is required", err: errors.New("missing file field")}
	}

	var firstErr error
	for _, header := range files {
		accepted, err := checkFile(header)
		if err == nil {
			return accepted, nil
		}
		var upErr *uploadError
		if !errors.As(err, &upErr) {
			return nil, err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func checkFile(header *multipart.FileHeader) (*upload.Accepted, error) {
	if header.Size > upload.MaxSize {
		return nil, &uploadError{status: http.StatusRequestEntityTooLarge, message: "image exceeds 10MB", err: upload.ErrTooLarge}
	}

	data, err := readFile(header)
	if err != nil {
		return nil, err
	}

	accepted, err := upload.Check(header.Filename, data)
	switch {
	case errors.Is(err, upload.ErrTooLarge):
		return nil, &uploadError{status: http.StatusRequestEntityTooLarge, message: "image exceeds 10MB", err: err}
	case errors.Is(err, upload.ErrUnsupportedType):
		return nil, &uploadError{status: http.StatusUnsupportedMediaType, message: "supported formats: JPG, PNG, WebP", err: err}
	case err != nil:
		return nil, &uploadError{status: http.StatusBadRequest, message: "image file is empty", err: err}
	}
	return accepted, nil
}

func readFile(header *multipart.FileHeader) ([]byte, error) {
	src, err := header.Open()
	if err != nil {
		return nil, &uploadError{status: http.StatusBadRequest, message: "unable to open image", err: err}
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, upload.MaxSize+1))
	if err != nil {
		return nil, err
	}
	return data, nil
}

func toImage(a *upload.Accepted) classifier.Image {
	return classifier.Image{Name: a.Name, ContentType: a.ContentType, Data: a.Data}
}
