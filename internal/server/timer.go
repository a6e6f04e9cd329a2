package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type timerStartRequest struct {
	TaskID string `json:"task_id"`
}

type timerSaveRequest struct {
	Comment string `json:"comment"`
}

// handleTimerStatus reports the viewer's session state and elapsed time.
func (s *Server) handleTimerStatus(c *gin.Context) {
	sess, err := s.sessionFor(c, currentViewer(c))
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"timer": sess.ctrl.Status()})
}

// handleTimerStart opens a new running entry for the selected task. The
// viewer must have a display name configured; the spreadsheet needs it.
func (s *Server) handleTimerStart(c *gin.Context) {
	viewer := currentViewer(c)
	sess, err := s.sessionFor(c, viewer)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}

	var req timerStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}

	displayName := viewer.Name
	if s.dir != nil {
		if profile, err := s.dir.GetProfile(c.Request.Context(), viewer.UserID); err == nil {
			displayName = profile.Name
		}
	}

	entry, err := sess.ctrl.Start(c.Request.Context(), req.TaskID, displayName)
	if err != nil {
		s.respondError(c, statusForError(err), err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"entry": entry, "timer": sess.ctrl.Status()})
}

// handleTimerStop moves the session into the comment dialog.
func (s *Server) handleTimerStop(c *gin.Context) {
	sess, err := s.sessionFor(c, currentViewer(c))
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	if err := sess.ctrl.RequestStop(); err != nil {
		s.respondError(c, statusForError(err), err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"timer": sess.ctrl.Status()})
}

// handleTimerSave confirms the stop with the final comment. Duplicate
// saves while one is in flight are ignored.
func (s *Server) handleTimerSave(c *gin.Context) {
	sess, err := s.sessionFor(c, currentViewer(c))
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}

	var req timerSaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}

	if err := sess.ctrl.ConfirmStop(c.Request.Context(), req.Comment); err != nil {
		s.respondError(c, statusForError(err), err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"timer": sess.ctrl.Status()})
}

// handleTimerCancel closes the comment dialog and resumes the session.
func (s *Server) handleTimerCancel(c *gin.Context) {
	sess, err := s.sessionFor(c, currentViewer(c))
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	if err := sess.ctrl.CancelStop(); err != nil {
		s.respondError(c, statusForError(err), err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"timer": sess.ctrl.Status()})
}
