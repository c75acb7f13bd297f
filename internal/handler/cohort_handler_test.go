package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/carewell/scheduling-api/internal/dto"
	"github.com/carewell/scheduling-api/internal/models"
)

type cohortCoordinatorMock struct {
	removed   dto.RemoveMemberRequest
	cohortID  string
	dissolved string
}

func (m *cohortCoordinatorMock) Create(ctx context.Context, req dto.CreateCohortRequest) (*models.Cohort, error) {
	return &models.Cohort{ID: "coh-1", Name: req.Name}, nil
}

func (m *cohortCoordinatorMock) GenerateSchedule(ctx context.Context, cohortID string, req dto.GenerateCohortScheduleRequest) (*dto.CohortScheduleResult, error) {
	return &dto.CohortScheduleResult{}, nil
}

func (m *cohortCoordinatorMock) AddMember(ctx context.Context, cohortID string, req dto.AddMemberRequest) (*dto.CohortScheduleResult, error) {
	return &dto.CohortScheduleResult{}, nil
}

func (m *cohortCoordinatorMock) RemoveMember(ctx context.Context, cohortID string, req dto.RemoveMemberRequest) error {
	m.cohortID = cohortID
	m.removed = req
	return nil
}

func (m *cohortCoordinatorMock) Synchronize(ctx context.Context, cohortID string, req dto.SynchronizeRequest) (*dto.SynchronizeResult, error) {
	return &dto.SynchronizeResult{Mode: req.Mode}, nil
}

func (m *cohortCoordinatorMock) Analytics(ctx context.Context, cohortID string, query dto.CohortAnalyticsQuery) (*models.CohortAnalytics, error) {
	return &models.CohortAnalytics{}, nil
}

func (m *cohortCoordinatorMock) Dissolve(ctx context.Context, cohortID string) error {
	m.dissolved = cohortID
	return nil
}

func TestCohortRemoveMemberParsesFlags(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &cohortCoordinatorMock{}
	h := &CohortHandler{service: mockSvc}

	req, _ := http.NewRequest(http.MethodDelete, "/cohorts/coh-1/members/enr-2?keepIndividualSessions=true&cancelSharedSessions=false", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "coh-1"}, {Key: "enrollmentId", Value: "enr-2"}}

	h.RemoveMember(c)
	c.Writer.WriteHeaderNow()

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "coh-1", mockSvc.cohortID)
	require.Equal(t, "enr-2", mockSvc.removed.EnrollmentID)
	require.True(t, mockSvc.removed.KeepIndividualSessions)
	require.False(t, mockSvc.removed.CancelSharedSessions)
}

func TestCohortRemoveMemberCancelsSharedByDefault(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &cohortCoordinatorMock{}
	h := &CohortHandler{service: mockSvc}

	req, _ := http.NewRequest(http.MethodDelete, "/cohorts/coh-1/members/enr-2", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "coh-1"}, {Key: "enrollmentId", Value: "enr-2"}}

	h.RemoveMember(c)
	c.Writer.WriteHeaderNow()

	require.Equal(t, http.StatusNoContent, w.Code)
	require.True(t, mockSvc.removed.CancelSharedSessions)
}

func TestCohortDissolve(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &cohortCoordinatorMock{}
	h := &CohortHandler{service: mockSvc}

	req, _ := http.NewRequest(http.MethodDelete, "/cohorts/coh-9", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "coh-9"}}

	h.Dissolve(c)
	c.Writer.WriteHeaderNow()

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "coh-9", mockSvc.dissolved)
}
