package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/carewell/scheduling-api/internal/dto"
	internalmiddleware "github.com/carewell/scheduling-api/internal/middleware"
	"github.com/carewell/scheduling-api/internal/models"
	appErrors "github.com/carewell/scheduling-api/pkg/errors"
)

type syncEngineMock struct {
	executed   dto.ExecuteSyncRequest
	executeErr error
	rolledBack string
	requester  string
}

func (m *syncEngineMock) AnalyzeChanges(ctx context.Context, req dto.AnalyzeChangesRequest) (*dto.AnalyzeChangesResult, error) {
	return &dto.AnalyzeChangesResult{ImpactLevel: models.ImpactMedium, SyncRequired: true}, nil
}

func (m *syncEngineMock) UpdateTemplate(ctx context.Context, templateID string, params dto.TemplateParams) (*models.ProgramTemplate, *dto.AnalyzeChangesResult, error) {
	return &models.ProgramTemplate{ID: templateID}, &dto.AnalyzeChangesResult{}, nil
}

func (m *syncEngineMock) ValidateSync(ctx context.Context, req dto.ValidateSyncRequest) (*dto.ValidateSyncResult, error) {
	return &dto.ValidateSyncResult{CanSync: true}, nil
}

func (m *syncEngineMock) Execute(ctx context.Context, req dto.ExecuteSyncRequest) (*models.SyncOperation, error) {
	m.executed = req
	if m.executeErr != nil {
		return nil, m.executeErr
	}
	return &models.SyncOperation{ID: "op-1", Status: models.SyncStatusCompleted}, nil
}

func (m *syncEngineMock) Rollback(ctx context.Context, operationID, requestedBy string) (*dto.RollbackResult, error) {
	m.rolledBack = operationID
	m.requester = requestedBy
	return &dto.RollbackResult{Success: true, SessionsRestored: 3}, nil
}

func (m *syncEngineMock) Operation(ctx context.Context, id string) (*models.SyncOperation, error) {
	return &models.SyncOperation{ID: id}, nil
}

func executePayload() []byte {
	return []byte(`{
		"templateId": "tpl-1",
		"changes": [{"field": "duration_weeks", "impact": "high"}],
		"policy": {"auto_sync": true},
		"options": {"dryRun": true}
	}`)
}

func TestSyncExecutePassesDryRunFlag(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &syncEngineMock{}
	h := &SyncHandler{service: mockSvc}

	req, _ := http.NewRequest(http.MethodPost, "/sync/execute", bytes.NewReader(executePayload()))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	h.Execute(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, mockSvc.executed.Options.DryRun)
	require.Equal(t, "tpl-1", mockSvc.executed.TemplateID)
}

func TestSyncExecutePolicyViolationStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &syncEngineMock{
		executeErr: appErrors.Clone(appErrors.ErrPolicyViolation, "auto_sync is disabled by policy"),
	}
	h := &SyncHandler{service: mockSvc}

	req, _ := http.NewRequest(http.MethodPost, "/sync/execute", bytes.NewReader(executePayload()))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	h.Execute(c)

	require.Equal(t, appErrors.ErrPolicyViolation.Status, w.Code)
}

func TestSyncRollbackUsesTokenIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &syncEngineMock{}
	h := &SyncHandler{service: mockSvc}

	req, _ := http.NewRequest(http.MethodPost, "/sync/operations/op-1/rollback", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "op-1"}}
	c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{UserID: "admin-3", Role: models.RoleAdmin})

	h.Rollback(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "op-1", mockSvc.rolledBack)
	require.Equal(t, "admin-3", mockSvc.requester)
}

func TestSyncUpdateTemplateMalformedPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &SyncHandler{service: &syncEngineMock{}}

	req, _ := http.NewRequest(http.MethodPut, "/templates/tpl-1", bytes.NewReader([]byte(`{"durationWeeks":`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "tpl-1"}}

	h.UpdateTemplate(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}
