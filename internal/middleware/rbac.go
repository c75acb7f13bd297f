package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/carewell/scheduling-api/internal/models"
	appErrors "github.com/carewell/scheduling-api/pkg/errors"
	"github.com/carewell/scheduling-api/pkg/response"
)

// RBAC restricts a route to the given roles. Requires JWT to run first.
func RBAC(allowed ...string) gin.HandlerFunc {
	roles := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		roles[role] = struct{}{}
	}

	return func(c *gin.Context) {
		value, ok := c.Get(ContextUserKey)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, ok := value.(*models.JWTClaims)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, permitted := roles[claims.Role]; !permitted {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "insufficient role for this operation"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// SchedulerOrAdmin is the common write-access guard.
func SchedulerOrAdmin() gin.HandlerFunc {
	return RBAC(models.RoleAdmin, models.RoleScheduler)
}
