package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carewell/scheduling-api/internal/dto"
	"github.com/carewell/scheduling-api/internal/models"
	"github.com/carewell/scheduling-api/internal/service"
	appErrors "github.com/carewell/scheduling-api/pkg/errors"
	"github.com/carewell/scheduling-api/pkg/response"
)

type cohortCoordinator interface {
	Create(ctx context.Context, req dto.CreateCohortRequest) (*models.Cohort, error)
	GenerateSchedule(ctx context.Context, cohortID string, req dto.GenerateCohortScheduleRequest) (*dto.CohortScheduleResult, error)
	AddMember(ctx context.Context, cohortID string, req dto.AddMemberRequest) (*dto.CohortScheduleResult, error)
	RemoveMember(ctx context.Context, cohortID string, req dto.RemoveMemberRequest) error
	Synchronize(ctx context.Context, cohortID string, req dto.SynchronizeRequest) (*dto.SynchronizeResult, error)
	Analytics(ctx context.Context, cohortID string, query dto.CohortAnalyticsQuery) (*models.CohortAnalytics, error)
	Dissolve(ctx context.Context, cohortID string) error
}

// CohortHandler exposes cohort coordination endpoints.
type CohortHandler struct {
	service cohortCoordinator
}

// NewCohortHandler constructs the handler.
func NewCohortHandler(svc *service.CohortCoordinatorService) *CohortHandler {
	return &CohortHandler{service: svc}
}

// Create godoc
// @Summary Create a cohort from compatible enrollments
// @Tags Cohorts
// @Accept json
// @Produce json
// @Param payload body dto.CreateCohortRequest true "Cohort payload"
// @Success 201 {object} response.Envelope
// @Router /cohorts [post]
func (h *CohortHandler) Create(c *gin.Context) {
	var req dto.CreateCohortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid cohort payload"))
		return
	}
	if req.CreatedBy == "" {
		req.CreatedBy = actorID(c)
	}
	cohort, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, cohort)
}

// GenerateSchedule godoc
// @Summary Generate the cohort's combined shared schedule
// @Tags Cohorts
// @Accept json
// @Produce json
// @Param id path string true "Cohort ID"
// @Param payload body dto.GenerateCohortScheduleRequest true "Generation window"
// @Success 200 {object} response.Envelope
// @Router /cohorts/{id}/schedule [post]
func (h *CohortHandler) GenerateSchedule(c *gin.Context) {
	var req dto.GenerateCohortScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generation window"))
		return
	}
	result, err := h.service.GenerateSchedule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// AddMember godoc
// @Summary Join an enrollment into a cohort
// @Tags Cohorts
// @Accept json
// @Produce json
// @Param id path string true "Cohort ID"
// @Param payload body dto.AddMemberRequest true "Membership payload"
// @Success 200 {object} response.Envelope
// @Router /cohorts/{id}/members [post]
func (h *CohortHandler) AddMember(c *gin.Context) {
	var req dto.AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid membership payload"))
		return
	}
	result, err := h.service.AddMember(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// RemoveMember godoc
// @Summary Remove an enrollment from a cohort
// @Tags Cohorts
// @Produce json
// @Param id path string true "Cohort ID"
// @Param enrollmentId path string true "Enrollment ID"
// @Param keepIndividualSessions query bool false "Keep the member's individual sessions"
// @Param cancelSharedSessions query bool false "Cancel the member's future shared attendance"
// @Success 204
// @Router /cohorts/{id}/members/{enrollmentId} [delete]
func (h *CohortHandler) RemoveMember(c *gin.Context) {
	req := dto.RemoveMemberRequest{
		EnrollmentID:           c.Param("enrollmentId"),
		KeepIndividualSessions: c.Query("keepIndividualSessions") == "true",
		CancelSharedSessions:   c.Query("cancelSharedSessions") != "false",
	}
	if err := h.service.RemoveMember(c.Request.Context(), c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Synchronize godoc
// @Summary Reconcile member schedules with the cohort's shared activities
// @Tags Cohorts
// @Accept json
// @Produce json
// @Param id path string true "Cohort ID"
// @Param payload body dto.SynchronizeRequest true "Synchronization payload"
// @Success 200 {object} response.Envelope
// @Router /cohorts/{id}/synchronize [post]
func (h *CohortHandler) Synchronize(c *gin.Context) {
	var req dto.SynchronizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid synchronization payload"))
		return
	}
	result, err := h.service.Synchronize(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Analytics godoc
// @Summary Cohort attendance and utilization analytics
// @Tags Cohorts
// @Produce json
// @Param id path string true "Cohort ID"
// @Param from query string true "Period start (YYYY-MM-DD)"
// @Param to query string true "Period end (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /cohorts/{id}/analytics [get]
func (h *CohortHandler) Analytics(c *gin.Context) {
	query := dto.CohortAnalyticsQuery{From: c.Query("from"), To: c.Query("to")}
	analytics, err := h.service.Analytics(c.Request.Context(), c.Param("id"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, analytics, nil)
}

// Dissolve godoc
// @Summary Dissolve a cohort and detach its members
// @Tags Cohorts
// @Produce json
// @Param id path string true "Cohort ID"
// @Success 204
// @Router /cohorts/{id} [delete]
func (h *CohortHandler) Dissolve(c *gin.Context) {
	if err := h.service.Dissolve(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
