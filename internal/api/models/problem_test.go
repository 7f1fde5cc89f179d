package models_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmsystem/dms/internal/api/models"
	"github.com/dmsystem/dms/internal/apperror"
)

func TestProblem_Builders(t *testing.T) {
	p := models.NewProblem(
		models.ProblemTypeValidation,
		"Validation error",
		http.StatusBadRequest,
		"req_test123",
	).WithDetail("device_ids is required").
		WithInstance("/api/v1/distributions").
		WithErrors([]models.FieldError{{Field: "device_ids", Message: "is required", Code: "REQUIRED"}})

	assert.Equal(t, models.ProblemTypeValidation, p.Type)
	assert.Equal(t, http.StatusBadRequest, p.Status)
	assert.Equal(t, "req_test123", p.TraceID)
	assert.Equal(t, "device_ids is required", p.Detail)
	assert.Equal(t, "/api/v1/distributions", p.Instance)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, "REQUIRED", p.Errors[0].Code)
}

func TestProblem_Write(t *testing.T) {
	p := models.NewBadRequest("req_test123", "invalid input", []models.FieldError{
		{Field: "serial_number", Message: "is required"},
	})
	p.Instance = "/api/v1/devices"

	w := httptest.NewRecorder()
	p.Write(w)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "req_test123", w.Header().Get("X-Request-Id"))

	var result models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))

	assert.Equal(t, models.ProblemTypeValidation, result.Type)
	assert.Equal(t, "Validation error", result.Title)
	assert.Equal(t, "invalid input", result.Detail)
	assert.Equal(t, "/api/v1/devices", result.Instance)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "serial_number", result.Errors[0].Field)
}

func TestProblem_Constructors(t *testing.T) {
	tests := []struct {
		name      string
		problem   *models.Problem
		wantType  string
		wantTitle string
		want      int
	}{
		{"unauthorized", models.NewUnauthorized("req_1", "d"), models.ProblemTypeUnauthorized, "Unauthorized", http.StatusUnauthorized},
		{"forbidden", models.NewForbidden("req_1", "d"), models.ProblemTypeForbidden, "Forbidden", http.StatusForbidden},
		{"not found", models.NewNotFound("req_1", "d"), models.ProblemTypeNotFound, "Not found", http.StatusNotFound},
		{"conflict", models.NewConflict("req_1", "d"), models.ProblemTypeConflict, "Conflict", http.StatusConflict},
		{"unsupported", models.NewUnsupportedMediaType("req_1", "d"), models.ProblemTypeUnsupportedType, "Unsupported media type", http.StatusUnsupportedMediaType},
		{"too many", models.NewTooManyRequests("req_1", "d"), models.ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests},
		{"internal", models.NewInternalError("req_1", "d"), models.ProblemTypeInternal, "Internal server error", http.StatusInternalServerError},
		{"unavailable", models.NewServiceUnavailable("req_1", "d"), models.ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.problem.Type)
			assert.Equal(t, tt.wantTitle, tt.problem.Title)
			assert.Equal(t, tt.want, tt.problem.Status)
			assert.Equal(t, "d", tt.problem.Detail)
			assert.Equal(t, "req_1", tt.problem.TraceID)
		})
	}
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{"not found", apperror.NotFound("Distribution not found"), http.StatusNotFound, "Distribution not found"},
		{"wrapped not found", fmt.Errorf("loading: %w", apperror.NotFound("Device not found")), http.StatusNotFound, "Device not found"},
		{"validation", apperror.Validation("Device SN-1 is not available"), http.StatusBadRequest, "Device SN-1 is not available"},
		{"conflict", apperror.Conflict("Approval already processed"), http.StatusConflict, "Approval already processed"},
		{"unavailable", apperror.Unavailable("find", errors.New("dial tcp: refused")), http.StatusServiceUnavailable, "the record store is temporarily unavailable"},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, "an unexpected error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := models.FromError("req_1", tt.err)
			assert.Equal(t, tt.wantStatus, p.Status)
			assert.Equal(t, tt.wantDetail, p.Detail)
		})
	}
}

func TestFromError_FieldErrors(t *testing.T) {
	err := &apperror.ValidationError{Errors: []apperror.FieldError{
		{Field: "serial_number", Message: "is required"},
		{Field: "model", Message: "must be at most 100 characters"},
	}}

	p := models.FromError("req_1", err)

	assert.Equal(t, http.StatusBadRequest, p.Status)
	require.Len(t, p.Errors, 2)
	assert.Equal(t, "model", p.Errors[1].Field)
	assert.Equal(t, "must be at most 100 characters", p.Errors[1].Message)
}
