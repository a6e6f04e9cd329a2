package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/daylog/daylog/internal/entrystore"
	"github.com/daylog/daylog/internal/models"
	"github.com/daylog/daylog/internal/syncer"
	"github.com/daylog/daylog/internal/timer"
)

// Directory exposes the task, team and profile collections. Satisfied by
// the sqlite store; nil when the service runs in local-fallback mode.
type Directory interface {
	ListTasks(ctx context.Context) ([]models.Task, error)
	GetTask(ctx context.Context, id string) (models.Task, error)
	UpsertTask(ctx context.Context, t models.Task) (models.Task, error)
	ListTeamsForUser(ctx context.Context, email string) ([]models.Team, error)
	SaveTeam(ctx context.Context, team models.Team, memberEmails []string) error
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
	SaveProfile(ctx context.Context, p models.Profile) error
}

// Server provides the HTTP API for the DayLog backend.
type Server struct {
	engine    *gin.Engine
	backend   entrystore.Backend
	dir       Directory
	syncer    *syncer.Syncer
	loc       *time.Location
	logger    *slog.Logger
	staticDir string

	// baseCtx bounds the per-session background goroutines (tick loops,
	// sync watchers); cancelled on shutdown.
	baseCtx context.Context

	mu       sync.Mutex
	sessions map[string]*session
}

// session is the per-user pair of optimistic store and timer controller.
type session struct {
	store *entrystore.Store
	ctrl  *timer.Controller
}

// New constructs the HTTP server with routes and middleware configured.
func New(ctx context.Context, backend entrystore.Backend, dir Directory, sync *syncer.Syncer,
	loc *time.Location, logger *slog.Logger, staticDir string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithWriter(gin.DefaultWriter, "/api"))

	srv := &Server{
		engine:    router,
		backend:   backend,
		dir:       dir,
		syncer:    sync,
		loc:       loc,
		logger:    logger,
		staticDir: staticDir,
		baseCtx:   ctx,
		sessions:  make(map[string]*session),
	}

	srv.registerRoutes()
	return srv
}

// Engine exposes the underlying Gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerRoutes wires all API and static handlers together.
func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/healthz", s.handleHealth)

		authed := api.Group("", s.requireViewer)
		{
			authed.GET("/tasks", s.handleListTasks)
			authed.GET("/teams", s.handleListTeams)
			authed.GET("/profile", s.handleGetProfile)
			authed.PUT("/profile", s.handleSaveProfile)

			entries := authed.Group("/entries")
			{
				entries.GET("", s.handleListEntries)
				entries.POST("", s.handleCreateEntry)
				entries.PATCH(":id", s.handleUpdateEntry)
				entries.DELETE(":id", s.handleDeleteEntry)
			}

			tm := authed.Group("/timer")
			{
				tm.GET("", s.handleTimerStatus)
				tm.POST("/start", s.handleTimerStart)
				tm.POST("/stop", s.handleTimerStop)
				tm.POST("/save", s.handleTimerSave)
				tm.POST("/cancel", s.handleTimerCancel)
			}

			admin := authed.Group("/admin", s.requireAdmin)
			{
				admin.GET("/tasks", s.handleAdminListTasks)
				admin.POST("/tasks", s.handleAdminUpsertTask)
				admin.POST("/teams", s.handleAdminSaveTeam)
			}
		}
	}

	s.mountStatic()
}

// handleHealth provides a basic readiness endpoint.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

const viewerKey = "viewer"

// requireViewer reads the identity the auth proxy injects. Authentication
// itself happens upstream; this service trusts the headers.
func (s *Server) requireViewer(c *gin.Context) {
	userID := c.GetHeader("X-User-Id")
	email := c.GetHeader("X-User-Email")
	if userID == "" || email == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	viewer := models.Viewer{
		UserID:  userID,
		Email:   email,
		Name:    c.GetHeader("X-User-Name"),
		IsAdmin: c.GetHeader("X-User-Admin") == "true",
	}

	if s.dir != nil {
		teams, err := s.dir.ListTeamsForUser(c.Request.Context(), email)
		if err != nil {
			s.respondError(c, http.StatusInternalServerError, err)
			c.Abort()
			return
		}
		for _, t := range teams {
			viewer.TeamIDs = append(viewer.TeamIDs, t.ID)
		}
	}

	c.Set(viewerKey, viewer)
	c.Next()
}

func (s *Server) requireAdmin(c *gin.Context) {
	if !currentViewer(c).IsAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return
	}
	c.Next()
}

func currentViewer(c *gin.Context) models.Viewer {
	v, _ := c.Get(viewerKey)
	viewer, _ := v.(models.Viewer)
	return viewer
}

// sessionFor returns the viewer's store/controller pair, creating it on
// first use. The controller adopts any entry still open from a previous
// process before its tick loop starts.
func (s *Server) sessionFor(c *gin.Context, viewer models.Viewer) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[viewer.UserID]; ok {
		return sess, nil
	}

	store, err := entrystore.New(c.Request.Context(), s.backend, viewer.UserID, s.logger)
	if err != nil {
		return nil, err
	}
	s.syncer.Watch(s.baseCtx, store.Events())

	ctrl := timer.New(store, s.loc, s.logger)
	ctrl.Restore(c.Request.Context())
	go ctrl.Run(s.baseCtx)

	sess := &session{store: store, ctrl: ctrl}
	s.sessions[viewer.UserID] = sess
	return sess, nil
}

// respondError logs the error and returns a JSON payload.
func (s *Server) respondError(c *gin.Context, status int, err error) {
	if err != nil {
		s.logger.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// respondSuccess wraps a payload in a JSON envelope for consistency.
func respondSuccess(c *gin.Context, status int, payload any) {
	if payload == nil {
		c.Status(status)
		return
	}
	c.JSON(status, payload)
}

// statusForError maps the domain sentinels to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrTimerRunning):
		return http.StatusConflict
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrNameRequired),
		errors.Is(err, models.ErrNoTimer):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
