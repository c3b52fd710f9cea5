package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/toms-api/internal/models"
	appErrors "github.com/noah-isme/toms-api/pkg/errors"
	"github.com/noah-isme/toms-api/pkg/response"
)

type permissionSource interface {
	Permissions() models.UserPermission
}

// RequirePermission rejects the request unless the deployment's permission set
// grants every flag in want.
func RequirePermission(source permissionSource, want models.UserPermission) gin.HandlerFunc {
	return func(c *gin.Context) {
		held := source.Permissions()
		if held.Has(want) {
			c.Next()
			return
		}
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("%s access does not allow this action", held)))
		c.Abort()
	}
}
