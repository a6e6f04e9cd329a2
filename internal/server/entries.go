package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/daylog/daylog/internal/models"
	"github.com/daylog/daylog/internal/timeutil"
)

type entryRequest struct {
	TaskID    *string    `json:"task_id"`
	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Comment   *string    `json:"comment"`
	Date      *string    `json:"date"`
}

// handleListEntries returns the viewer's entries, newest first, including
// pending optimistic changes.
func (s *Server) handleListEntries(c *gin.Context) {
	sess, err := s.sessionFor(c, currentViewer(c))
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"entries": sess.store.Entries()})
}

// handleCreateEntry records a manual or batch entry with both timestamps
// supplied up front.
func (s *Server) handleCreateEntry(c *gin.Context) {
	viewer := currentViewer(c)
	sess, err := s.sessionFor(c, viewer)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}

	var req entryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}
	if req.TaskID == nil || req.StartTime == nil {
		s.respondError(c, http.StatusBadRequest, models.ErrValidation)
		return
	}

	entry := models.TimeEntry{
		TaskID:    *req.TaskID,
		StartTime: *req.StartTime,
		EndTime:   req.EndTime,
		Date:      timeutil.ReportingDate(*req.StartTime, s.loc),
	}
	if req.Comment != nil {
		entry.Comment = *req.Comment
	}
	if req.Date != nil {
		entry.Date = *req.Date
	}

	persisted, err := sess.store.Create(c.Request.Context(), entry)
	if err != nil {
		s.respondError(c, statusForError(err), err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"entry": persisted})
}

// handleUpdateEntry patches the fields present in the request body.
func (s *Server) handleUpdateEntry(c *gin.Context) {
	sess, err := s.sessionFor(c, currentViewer(c))
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}

	var req entryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}

	update := models.EntryUpdate{
		TaskID:    req.TaskID,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Comment:   req.Comment,
		Date:      req.Date,
	}
	if req.StartTime != nil && req.Date == nil {
		date := timeutil.ReportingDate(*req.StartTime, s.loc)
		update.Date = &date
	}

	if err := sess.store.Update(c.Param("id"), update); err != nil {
		s.respondError(c, statusForError(err), err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "updated"})
}

// handleDeleteEntry removes an entry; the matching ledger row is removed
// best-effort in the background.
func (s *Server) handleDeleteEntry(c *gin.Context) {
	sess, err := s.sessionFor(c, currentViewer(c))
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}

	if err := sess.store.Delete(c.Param("id")); err != nil {
		s.respondError(c, statusForError(err), err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "deleted"})
}
