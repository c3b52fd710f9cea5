package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/toms-api/internal/models"
)

type staticPermissions models.UserPermission

func (p staticPermissions) Permissions() models.UserPermission { return models.UserPermission(p) }

func TestRequirePermission(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name string
		held models.UserPermission
		want int
	}{
		{name: "granted", held: models.PermRead | models.PermPrint | models.PermWrite, want: http.StatusOK},
		{name: "read only", held: models.PermRead | models.PermPrint, want: http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.POST("/edit", RequirePermission(staticPermissions(tc.held), models.PermWrite), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/edit", nil))
			assert.Equal(t, tc.want, w.Code)
		})
	}
}
