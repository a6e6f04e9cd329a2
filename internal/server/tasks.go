package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/daylog/daylog/internal/models"
	"github.com/daylog/daylog/internal/visibility"
)

// handleListTasks returns the tasks the viewer may time, grouped by team
// label for the selection dropdown.
func (s *Server) handleListTasks(c *gin.Context) {
	if s.dir == nil {
		respondSuccess(c, http.StatusOK, gin.H{"groups": []visibility.Group{}})
		return
	}

	tasks, err := s.dir.ListTasks(c.Request.Context())
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}

	visible := visibility.VisibleTasks(tasks, currentViewer(c))
	respondSuccess(c, http.StatusOK, gin.H{"groups": visibility.GroupByTeam(visible)})
}

// handleListTeams returns the teams the viewer belongs to.
func (s *Server) handleListTeams(c *gin.Context) {
	if s.dir == nil {
		respondSuccess(c, http.StatusOK, gin.H{"teams": []models.Team{}})
		return
	}

	teams, err := s.dir.ListTeamsForUser(c.Request.Context(), currentViewer(c).Email)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"teams": teams})
}

// handleGetProfile returns the viewer's display name and approval flag.
func (s *Server) handleGetProfile(c *gin.Context) {
	if s.dir == nil {
		s.respondError(c, http.StatusServiceUnavailable, models.ErrNotFound)
		return
	}

	viewer := currentViewer(c)
	profile, err := s.dir.GetProfile(c.Request.Context(), viewer.UserID)
	if err != nil {
		s.respondError(c, statusForError(err), err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"profile": profile})
}

type profileRequest struct {
	Name string `json:"name"`
}

// handleSaveProfile sets the viewer's display name.
func (s *Server) handleSaveProfile(c *gin.Context) {
	if s.dir == nil {
		s.respondError(c, http.StatusServiceUnavailable, models.ErrNotFound)
		return
	}

	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.respondError(c, http.StatusBadRequest, models.ErrNameRequired)
		return
	}

	viewer := currentViewer(c)
	profile := models.Profile{UserID: viewer.UserID, Email: viewer.Email, Name: strings.TrimSpace(req.Name)}
	if existing, err := s.dir.GetProfile(c.Request.Context(), viewer.UserID); err == nil {
		profile.Approved = existing.Approved
	}

	if err := s.dir.SaveProfile(c.Request.Context(), profile); err != nil {
		s.respondError(c, statusForError(err), err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"profile": profile})
}

// handleAdminListTasks returns every task, including terminal and
// unassigned ones, for assignment and triage.
func (s *Server) handleAdminListTasks(c *gin.Context) {
	if s.dir == nil {
		respondSuccess(c, http.StatusOK, gin.H{"tasks": []models.Task{}})
		return
	}

	tasks, err := s.dir.ListTasks(c.Request.Context())
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"tasks": visibility.AdminTasks(tasks)})
}

// handleAdminUpsertTask creates or updates a task row. The tracker sync
// job and the admin management screen both land here.
func (s *Server) handleAdminUpsertTask(c *gin.Context) {
	if s.dir == nil {
		s.respondError(c, http.StatusServiceUnavailable, models.ErrNotFound)
		return
	}

	var task models.Task
	if err := c.ShouldBindJSON(&task); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}

	saved, err := s.dir.UpsertTask(c.Request.Context(), task)
	if err != nil {
		s.respondError(c, statusForError(err), err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": saved})
}

type teamRequest struct {
	Team    models.Team `json:"team"`
	Members []string    `json:"members"`
}

// handleAdminSaveTeam replaces a team and its member emails.
func (s *Server) handleAdminSaveTeam(c *gin.Context) {
	if s.dir == nil {
		s.respondError(c, http.StatusServiceUnavailable, models.ErrNotFound)
		return
	}

	var req teamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}

	if err := s.dir.SaveTeam(c.Request.Context(), req.Team, req.Members); err != nil {
		s.respondError(c, statusForError(err), err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "saved"})
}
