package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/leadchat/internal/leads"
	"github.com/leadchat/pkg/models"
)

// captureLead handles POST /api/v1/leads
func (s *Server) captureLead(c echo.Context) error {
	var lead models.Lead
	if err := c.Bind(&lead); err != nil {
		return c.JSON(http.StatusBadRequest, leads.CaptureResponse{Error: "Invalid lead data"})
	}

	stored, err := s.leads.Capture(c.Request().Context(), lead, c.RealIP())
	switch {
	case errors.Is(err, leads.ErrInvalidLead):
		return c.JSON(http.StatusBadRequest, leads.CaptureResponse{Error: "Missing required lead data"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, leads.CaptureResponse{Error: "Failed to save lead"})
	}

	return c.JSON(http.StatusOK, leads.CaptureResponse{Success: true, LeadID: stored.ID})
}

// listLeads handles GET /api/v1/leads?page=&per_page=&status=&search=
func (s *Server) listLeads(c echo.Context) error {
	var filter leads.ListFilter
	if err := c.Bind(&filter); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid query parameters")
	}

	result, err := s.leads.List(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list leads")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve leads")
	}
	return c.JSON(http.StatusOK, result)
}

// getLead handles GET /api/v1/leads/:id
func (s *Server) getLead(c echo.Context) error {
	lead, err := s.leads.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return leadError(err)
	}
	return c.JSON(http.StatusOK, lead)
}

type statusRequest struct {
	Status models.LeadStatus `json:"status"`
}

// updateLeadStatus handles PATCH /api/v1/leads/:id/status
func (s *Server) updateLeadStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	if err := s.leads.UpdateStatus(c.Request().Context(), c.Param("id"), req.Status); err != nil {
		return leadError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  req.Status,
	})
}

// deleteLead handles DELETE /api/v1/leads/:id
func (s *Server) deleteLead(c echo.Context) error {
	if err := s.leads.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return leadError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func leadError(err error) error {
	switch {
	case errors.Is(err, leads.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Lead not found")
	case errors.Is(err, leads.ErrInvalidLead):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to process lead")
	}
}
