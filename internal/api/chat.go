package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/leadchat/internal/relay"
	"github.com/leadchat/pkg/models"
)

// chat handles POST /api/v1/chat. Client-supplied system messages are
// dropped; the relay adds its own context.
func (s *Server) chat(c echo.Context) error {
	var req relay.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, relay.Response{Error: "Invalid request body"})
	}

	messages := make([]models.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		messages = append(messages, m)
	}
	if len(messages) == 0 {
		return c.JSON(http.StatusBadRequest, relay.Response{Error: "No messages provided"})
	}
	req.Messages = messages

	reply, err := s.relay.Complete(c.Request().Context(), req)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
			Int("messages", len(messages)).
			Msg("chat completion failed")
		return c.JSON(http.StatusBadGateway, relay.Response{Error: "AI service unavailable"})
	}

	return c.JSON(http.StatusOK, relay.Response{Success: true, Reply: reply})
}
