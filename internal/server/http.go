// Package server exposes a locator session over HTTP (map page, state and
// action endpoints) and serves gRPC health checks.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stuartshay/hospital-locator/internal/directory"
	"github.com/stuartshay/hospital-locator/internal/eventloop"
	"github.com/stuartshay/hospital-locator/internal/export"
	"github.com/stuartshay/hospital-locator/internal/history"
	"github.com/stuartshay/hospital-locator/internal/hospital"
	"github.com/stuartshay/hospital-locator/internal/mapview"
	"github.com/stuartshay/hospital-locator/internal/ui"
)

// requestTimeout bounds reads that go through the event loop.
const requestTimeout = 5 * time.Second

// HistoryReader lists recorded activity.
type HistoryReader interface {
	RecentSearches(ctx context.Context, limit int) ([]history.SearchRecord, error)
	RecentNotifications(ctx context.Context, limit int) ([]history.NotificationRecord, error)
	HealthCheck(ctx context.Context) error
}

// Options wire the HTTP server to one session.
type Options struct {
	ServiceName string
	Controller  *ui.Controller
	Loop        *eventloop.Loop
	View        *ui.SnapshotView
	Surface     *mapview.MemorySurface
	// History is optional.
	History HistoryReader
}

// HTTPServer serves the map page and the session API.
type HTTPServer struct {
	opts   Options
	engine *gin.Engine
}

// NewHTTPServer builds the router.
func NewHTTPServer(opts Options) *HTTPServer {
	s := &HTTPServer{opts: opts}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/", s.mapPage)
	r.GET("/healthz", s.healthz)

	api := r.Group("/api")
	api.GET("/state", s.state)
	api.GET("/tasks", s.listTasks)
	api.GET("/tasks/:id", s.getTask)
	api.GET("/export.xlsx", s.exportXLSX)
	api.GET("/export.csv", s.exportCSV)

	actions := api.Group("/actions")
	actions.POST("/locate", s.locate)
	actions.POST("/radius", s.setRadius)
	actions.POST("/notify", s.notify)
	actions.POST("/select/:id", s.selectHospital)
	actions.POST("/style", s.cycleStyle)

	if opts.History != nil {
		api.GET("/history/searches", s.recentSearches)
		api.GET("/history/notifications", s.recentNotifications)
	}

	s.engine = r
	return s
}

// Handler returns the router wrapped with OpenTelemetry instrumentation.
func (s *HTTPServer) Handler() http.Handler {
	return otelhttp.NewHandler(s.engine, s.opts.ServiceName)
}

// requestLogger logs each request with zerolog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

func (s *HTTPServer) healthz(c *gin.Context) {
	if s.opts.History != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()
		if err := s.opts.History.HealthCheck(ctx); err != nil {
			log.Warn().Err(err).Msg("History database health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "service": s.opts.ServiceName, "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": s.opts.ServiceName})
}

func (s *HTTPServer) mapPage(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	data, err := s.opts.Controller.PageData(ctx, s.opts.Surface)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := mapview.RenderPage(c.Writer, data); err != nil {
		log.Error().Err(err).Msg("Failed to render map page")
	}
}

type stateResponse struct {
	Session   ui.Session          `json:"session"`
	Hospitals []hospital.Hospital `json:"hospitals"`
	View      ui.ViewState        `json:"view"`
	Map       mapview.Viewport    `json:"map"`
	Loop      map[string]int      `json:"loop"`
}

func (s *HTTPServer) session(c *gin.Context) (ui.Session, bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	sess, err := s.opts.Controller.Session(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return ui.Session{}, false
	}
	return sess, true
}

func (s *HTTPServer) state(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	resp := stateResponse{
		Session:   sess,
		Hospitals: []hospital.Hospital{},
		View:      s.opts.View.State(),
		Map:       s.opts.Surface.Viewport(),
		Loop:      s.opts.Loop.Stats(),
	}
	if sess.Snapshot != nil {
		resp.Hospitals = sess.Snapshot.Hospitals
	}
	c.JSON(http.StatusOK, resp)
}

// accepted answers an action with its task id.
func (s *HTTPServer) accepted(c *gin.Context, taskID string, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
	case errors.Is(err, eventloop.ErrLoopFull), errors.Is(err, eventloop.ErrLoopClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, directory.ErrInvalidRadius):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *HTTPServer) locate(c *gin.Context) {
	id, err := s.opts.Controller.GetLocation()
	s.accepted(c, id, err)
}

type radiusRequest struct {
	RadiusKM int `json:"radius_km" binding:"required"`
}

func (s *HTTPServer) setRadius(c *gin.Context) {
	var req radiusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := s.opts.Controller.SetRadius(req.RadiusKM)
	s.accepted(c, id, err)
}

func (s *HTTPServer) notify(c *gin.Context) {
	id, err := s.opts.Controller.RequestNotifications()
	s.accepted(c, id, err)
}

func (s *HTTPServer) selectHospital(c *gin.Context) {
	hospitalID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || hospitalID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid hospital id"})
		return
	}
	id, err := s.opts.Controller.SelectHospital(hospitalID)
	s.accepted(c, id, err)
}

func (s *HTTPServer) cycleStyle(c *gin.Context) {
	id, err := s.opts.Controller.CycleMapStyle()
	s.accepted(c, id, err)
}

func (s *HTTPServer) getTask(c *gin.Context) {
	task, err := s.opts.Loop.Task(c.Param("id"))
	if err != nil {
		if errors.Is(err, eventloop.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *HTTPServer) listTasks(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	status := eventloop.TaskStatus(c.Query("status"))

	c.JSON(http.StatusOK, gin.H{
		"tasks": s.opts.Loop.Tasks(status, limit, offset),
		"stats": s.opts.Loop.Stats(),
	})
}

func (s *HTTPServer) exportXLSX(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if sess.Snapshot == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no hospital search yet"})
		return
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(sess.Snapshot, "xlsx")+`"`)
	c.Status(http.StatusOK)
	if err := export.WriteHospitals(c.Writer, sess.Snapshot); err != nil {
		log.Error().Err(err).Msg("Failed to write XLSX export")
	}
}

func (s *HTTPServer) exportCSV(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if sess.Snapshot == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no hospital search yet"})
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(sess.Snapshot, "csv")+`"`)
	c.Status(http.StatusOK)
	if err := export.WriteCSV(c.Writer, sess.Snapshot); err != nil {
		log.Error().Err(err).Msg("Failed to write CSV export")
	}
}

func (s *HTTPServer) recentSearches(c *gin.Context) {
	records, err := s.opts.History.RecentSearches(c.Request.Context(), queryInt(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *HTTPServer) recentNotifications(c *gin.Context) {
	records, err := s.opts.History.RecentNotifications(c.Request.Context(), queryInt(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}
