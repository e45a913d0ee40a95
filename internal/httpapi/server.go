package httpapi

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"gitlab.com/polisuite/api/agency-crm-service/internal/session"
)

// NewServer assembles the echo instance: recovery, request IDs, a body limit
// sized for chunk submissions, bearer auth, and the v1 routes.
func NewServer(maxBodyBytes int64, sessions session.Store, imports *ImportHandler, invitations *InvitationHandler) *echo.Echo {
	server := echo.New()
	server.HideBanner = true
	server.HidePort = true

	server.Use(middleware.Recover())
	server.Use(middleware.RequestID())
	server.Use(MetricsMiddleware())
	if maxBodyBytes > 0 {
		server.Use(middleware.BodyLimit(strconv.FormatInt(maxBodyBytes, 10) + "B"))
	}

	RegisterRoutes(server, sessions, imports, invitations)
	return server
}

// RegisterRoutes mounts the authenticated v1 API.
func RegisterRoutes(server *echo.Echo, sessions session.Store, imports *ImportHandler, invitations *InvitationHandler) {
	v1 := server.Group("/api/v1", AuthMiddleware(sessions))

	v1.POST("/imports", imports.CreateJob)
	v1.POST("/imports/run", imports.RunImport)
	v1.GET("/imports/mappings/suggest", imports.SuggestMapping)
	v1.POST("/imports/:id/chunks", imports.SubmitChunk)
	v1.GET("/imports/:id", imports.GetJob)
	v1.GET("/imports/:id/errors.csv", imports.ErrorReport)

	v1.POST("/invitations", invitations.BulkInvite)
	v1.GET("/invitations/usage", invitations.SeatUsage)
}
