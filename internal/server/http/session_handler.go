package http

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"iris/internal/session"
	"iris/internal/trajectory"
)

type sessionHandler struct {
	sessions     TranscriptReader
	trajectories TrajectoryReader
}

func (h *sessionHandler) handleMessages(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("id"))
	messages := h.sessions.GetMessages(c.Request.Context(), sessionID)
	if messages == nil {
		messages = []session.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "messages": messages})
}

// handleTrajectory returns recorded turns as JSON, or YAML with ?format=yaml.
func (h *sessionHandler) handleTrajectory(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("id"))
	ctx := c.Request.Context()

	if strings.EqualFold(c.Query("format"), "yaml") {
		var buf bytes.Buffer
		if err := h.trajectories.ExportYAML(ctx, sessionID, &buf); err != nil {
			h.trajectoryError(c, sessionID, err)
			return
		}
		c.Data(http.StatusOK, "application/yaml; charset=utf-8", buf.Bytes())
		return
	}

	records, err := h.trajectories.Load(ctx, sessionID)
	if err != nil {
		h.trajectoryError(c, sessionID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "turns": records})
}

func (h *sessionHandler) trajectoryError(c *gin.Context, sessionID string, err error) {
	if errors.Is(err, trajectory.ErrNotFound) {
		respondError(c, http.StatusNotFound, "no trajectory for session "+sessionID)
		return
	}
	respondError(c, http.StatusInternalServerError, err.Error())
}
