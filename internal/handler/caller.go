package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"auctionhouse/internal/auth"
	"auctionhouse/internal/chain"
	"auctionhouse/internal/service"
)

// callerOf builds the workflow identity from verified token claims.
func callerOf(c *gin.Context) (service.Caller, bool) {
	claims, ok := auth.ClaimsFrom(c)
	if !ok {
		return service.Caller{}, false
	}
	addr, err := chain.ParseID(claims.Address)
	if err != nil {
		return service.Caller{}, false
	}
	role := service.RoleUser
	if claims.Role == auth.RoleAdmin {
		role = service.RoleAdmin
	}
	return service.Caller{Address: addr, Role: role}, true
}

// mustCaller writes 401 when the request carries no valid identity.
func mustCaller(c *gin.Context) (service.Caller, bool) {
	caller, ok := callerOf(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "sign in required", nil)
	}
	return caller, ok
}

// CallerAddress is used by audit logging.
func CallerAddress(c *gin.Context) string {
	if caller, ok := callerOf(c); ok {
		return caller.Address.String()
	}
	return ""
}

// requireAdmin rejects tokens without the admin role before any handler
// runs. The state machine still checks the address itself.
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerOf(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apiResponse{Code: http.StatusUnauthorized, Message: "sign in required"})
			return
		}
		if caller.Role != service.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, apiResponse{Code: http.StatusForbidden, Message: service.ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}
