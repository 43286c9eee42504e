package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"iris/internal/agent"
	"iris/internal/agent/ports"
	"iris/internal/logging"
	"iris/internal/session"
	"iris/internal/widget"
)

const envelopeVersion = "1"

type turnHandler struct {
	turns    TurnRunner
	resolver AgentResolver
	logger   logging.Logger
}

type chatRequest struct {
	Agent     string         `json:"agent"`
	ChatID    string         `json:"chat_id"`
	SessionID string         `json:"session_id"`
	Message   string         `json:"message"`
	DeviceID  string         `json:"device_id"`
	Metadata  map[string]any `json:"metadata"`
}

type chatResponse struct {
	ChatID   string          `json:"chat_id"`
	Agent    string          `json:"agent"`
	Response string          `json:"response"`
	Widgets  []widget.Record `json:"widgets"`
	Error    string          `json:"error,omitempty"`
}

type envelopeInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type envelopeDevice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Platform string `json:"platform"`
}

type envelopeTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type envelopeContext struct {
	Turns []envelopeTurn `json:"turns"`
}

type turnEnvelope struct {
	Version     string           `json:"version"`
	RequestID   string           `json:"request_id"`
	WorkspaceID string           `json:"workspace_id"`
	SessionID   string           `json:"session_id"`
	Input       envelopeInput    `json:"input"`
	Device      *envelopeDevice  `json:"device"`
	Context     *envelopeContext `json:"context"`
	Agent       string           `json:"agent"`
	Metadata    map[string]any   `json:"metadata"`
}

type turnResponse struct {
	Version    string        `json:"version"`
	RequestID  string        `json:"request_id"`
	SessionID  string        `json:"session_id"`
	Agent      string        `json:"agent"`
	Text       string        `json:"text"`
	Events     []ports.Event `json:"events"`
	ServerTime time.Time     `json:"server_time"`
	Error      string        `json:"error,omitempty"`
}

// requestError is a client input problem answered with 400.
type requestError struct{ msg string }

func (e requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return requestError{msg: fmt.Sprintf(format, args...)}
}

func (h *turnHandler) handleChat(c *gin.Context) {
	req, err := h.chatTurn(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	result, err := h.turns.Run(c.Request.Context(), req)
	if err != nil && !errors.Is(err, agent.ErrTurnFailed) {
		h.fail(c, err)
		return
	}
	resp := chatResponse{
		ChatID:   req.SessionID,
		Agent:    req.Agent,
		Response: result.Text,
		Widgets:  result.Widgets,
	}
	if resp.Widgets == nil {
		resp.Widgets = []widget.Record{}
	}
	if err != nil {
		resp.Error = result.Error
		c.JSON(http.StatusBadGateway, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *turnHandler) handleChatStream(c *gin.Context) {
	req, err := h.chatTurn(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.stream(c, req)
}

func (h *turnHandler) handleTurn(c *gin.Context) {
	env, req, err := h.envelopeTurn(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	result, err := h.turns.Run(c.Request.Context(), req)
	if err != nil && !errors.Is(err, agent.ErrTurnFailed) {
		h.fail(c, err)
		return
	}
	resp := turnResponse{
		Version:    env.Version,
		RequestID:  result.RequestID,
		SessionID:  req.SessionID,
		Agent:      req.Agent,
		Text:       result.Text,
		Events:     result.Events,
		ServerTime: time.Now().UTC(),
	}
	if resp.Events == nil {
		resp.Events = []ports.Event{}
	}
	if err != nil {
		resp.Error = result.Error
		c.JSON(http.StatusBadGateway, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *turnHandler) handleTurnStream(c *gin.Context) {
	_, req, err := h.envelopeTurn(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.stream(c, req)
}

func (h *turnHandler) stream(c *gin.Context, req agent.TurnRequest) {
	format := negotiateFormat(c)
	events, err := h.turns.Stream(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	writeEventStream(c, format, events, h.logger)
}

func (h *turnHandler) chatTurn(c *gin.Context) (agent.TurnRequest, error) {
	var body chatRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		return agent.TurnRequest{}, badRequest("invalid request body: %v", err)
	}
	chatID := strings.TrimSpace(body.ChatID)
	if chatID == "" {
		chatID = strings.TrimSpace(body.SessionID)
	}
	if chatID == "" {
		return agent.TurnRequest{}, badRequest("chat_id is required")
	}
	if strings.TrimSpace(body.Message) == "" {
		return agent.TurnRequest{}, badRequest("message is required")
	}
	req := agent.TurnRequest{
		SessionID: chatID,
		Message:   body.Message,
		DeviceID:  strings.TrimSpace(body.DeviceID),
	}
	return req, h.resolve(c, &req, body.Agent, body.Metadata)
}

func (h *turnHandler) envelopeTurn(c *gin.Context) (turnEnvelope, agent.TurnRequest, error) {
	var env turnEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		return env, agent.TurnRequest{}, badRequest("invalid request body: %v", err)
	}
	if strings.TrimSpace(env.Version) == "" {
		env.Version = envelopeVersion
	}
	sessionID := strings.TrimSpace(env.SessionID)
	if sessionID == "" {
		return env, agent.TurnRequest{}, badRequest("session_id is required")
	}
	if env.Input.Type != "text" {
		return env, agent.TurnRequest{}, badRequest("input.type must be %q", "text")
	}
	if strings.TrimSpace(env.Input.Text) == "" {
		return env, agent.TurnRequest{}, badRequest("input.text is required")
	}

	req := agent.TurnRequest{
		SessionID: sessionID,
		Message:   env.Input.Text,
		RequestID: strings.TrimSpace(env.RequestID),
	}
	if env.Device != nil {
		req.DeviceID = strings.TrimSpace(env.Device.ID)
	}
	if env.Context != nil {
		turns := env.Context.Turns
		if len(turns) > agent.MaxSeedTurns {
			turns = turns[len(turns)-agent.MaxSeedTurns:]
		}
		for i, turn := range turns {
			role := strings.ToLower(strings.TrimSpace(turn.Role))
			if role != session.RoleUser && role != session.RoleAssistant {
				return env, agent.TurnRequest{}, badRequest("context.turns[%d].role must be user or assistant", i)
			}
			req.SeedTurns = append(req.SeedTurns, session.Message{Role: role, Content: turn.Content})
		}
	}
	if err := h.resolve(c, &req, env.Agent, env.Metadata); err != nil {
		return env, agent.TurnRequest{}, err
	}
	return env, req, nil
}

// resolve applies body agent, then metadata agent, then the header.
func (h *turnHandler) resolve(c *gin.Context, req *agent.TurnRequest, bodyAgent string, metadata map[string]any) error {
	metaAgent, _ := metadata["agent"].(string)
	res, err := h.resolver.Resolve(c.Request.Context(), req.SessionID, bodyAgent, metaAgent, c.GetHeader(AgentHeader))
	if err != nil {
		if errors.Is(err, agent.ErrUnknownAgent) {
			return badRequest("%v", err)
		}
		return err
	}
	req.Agent = res.Agent
	req.ExplicitAgent = res.Explicit
	return nil
}

func (h *turnHandler) fail(c *gin.Context, err error) {
	var reqErr requestError
	switch {
	case errors.As(err, &reqErr):
		respondError(c, http.StatusBadRequest, reqErr.msg)
	case errors.Is(err, agent.ErrUnknownAgent),
		errors.Is(err, agent.ErrEmptyMessage),
		errors.Is(err, session.ErrEmptySessionID):
		respondError(c, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("turn failed before start: %v", err)
		respondError(c, http.StatusInternalServerError, "internal error")
	}
}
