package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthHandler_Check(t *testing.T) {
	// Setup
	e := NewTestEcho()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(nil)

	// Act
	err := h.Check(c)

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"timestamp"`)
}

func TestHealthHandler_Check_Dependencies(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthCheck
		wantCode   int
		wantStatus string
		wantBody   string
	}{
		{
			name: "全て正常",
			checks: map[string]HealthCheck{
				"store": func(context.Context) error { return nil },
				"redis": func(context.Context) error { return nil },
			},
			wantCode:   http.StatusOK,
			wantStatus: `"status":"ok"`,
			wantBody:   `"redis":"ok"`,
		},
		{
			name: "依存先の障害は503",
			checks: map[string]HealthCheck{
				"store": func(context.Context) error { return errors.New("connection refused") },
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: `"status":"degraded"`,
			wantBody:   `"store":"connection refused"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewTestEcho()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)

			assert.NoError(t, NewHealthHandler(tt.checks).Check(c))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantStatus)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}
