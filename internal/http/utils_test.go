package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/j-angnoe/flux-framework-bundle/internal/job"
	"github.com/j-angnoe/flux-framework-bundle/internal/pipeline"
	"github.com/j-angnoe/flux-framework-bundle/internal/search"
	"github.com/j-angnoe/flux-framework-bundle/internal/shared/utils"
	"github.com/j-angnoe/flux-framework-bundle/internal/shell"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: abcd", job.ErrNotFound), http.StatusNotFound},
		{job.ErrInvalidToken, http.StatusBadRequest},
		{job.ErrInvalidSpec, http.StatusBadRequest},
		{shell.ErrMissingArgument, http.StatusBadRequest},
		{search.ErrUnknownOperator, http.StatusBadRequest},
		{pipeline.ErrInvalidArgument, http.StatusBadRequest},
		{job.ErrNoActiveProcess, http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestBindJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantBound  bool
	}{
		{"valid", `{"command":"echo %s","args":["hi"]}`, http.StatusOK, true},
		{"malformed", `{"command":`, http.StatusBadRequest, false},
		{"wrong type", `{"command":42}`, http.StatusBadRequest, false},
		{"too large", `{"command":"` + strings.Repeat("x", utils.MaxJSONSize) + `"}`, http.StatusRequestEntityTooLarge, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(tt.body))

			var spec job.Spec
			ok := bindJSON(c, &spec)

			assert.Equal(t, tt.wantBound, ok)
			if tt.wantBound {
				assert.Equal(t, "echo %s", spec.Command)
				assert.Equal(t, []string{"hi"}, spec.Args)
				return
			}
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}
