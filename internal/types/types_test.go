package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DoyleJ11/trial-backend/internal/engine"
	"github.com/DoyleJ11/trial-backend/internal/store"
	"github.com/DoyleJ11/trial-backend/internal/trial"
)

func TestProblemFor(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{name: "not found", err: trial.ErrSessionNotFound, status: http.StatusNotFound, code: "session_not_found"},
		{name: "full", err: trial.ErrSessionFull, status: http.StatusConflict, code: "room_full"},
		{name: "not adjudicator", err: engine.ErrNotAuthorized, status: http.StatusForbidden, code: "not_authorized"},
		{name: "held role", err: fmt.Errorf("add participant: %w", store.ErrConflict), status: http.StatusConflict, code: "conflict", retryable: true},
		{name: "second verdict", err: store.ErrVerdictExists, status: http.StatusConflict, code: "conflict", retryable: true},
		{name: "store down", err: fmt.Errorf("list: %w", store.ErrUnavailable), status: http.StatusServiceUnavailable, code: "unavailable", retryable: true},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, code: "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, p := ProblemFor(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, p.Code)
			assert.Equal(t, tc.retryable, p.Retryable)
		})
	}
}
