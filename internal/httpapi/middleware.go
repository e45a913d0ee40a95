package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"gitlab.com/polisuite/api/agency-crm-service/internal/observer"
	"gitlab.com/polisuite/api/agency-crm-service/internal/session"
	"gitlab.com/polisuite/api/agency-crm-service/internal/tenant"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/logger"
)

// AuthMiddleware resolves the bearer token against the session store and puts
// the caller's identity (agency, user, role) into the request context. Every
// route behind it can rely on tenant.FromContext succeeding.
func AuthMiddleware(sessions session.Store) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				return c.JSON(http.StatusUnauthorized, apiResponse{Error: &errorBody{
					Code:    "unauthorized",
					Message: "missing bearer token",
				}})
			}

			data, err := sessions.Lookup(c.Request().Context(), token)
			if err != nil {
				logger.FromContext(c.Request().Context()).Debug("Session lookup failed", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, apiResponse{Error: &errorBody{
					Code:    "unauthorized",
					Message: "invalid or expired session",
				}})
			}

			ctx := tenant.WithAgencyID(c.Request().Context(), data.AgencyID)
			ctx = tenant.WithUserID(ctx, data.UserID)
			ctx = tenant.WithRole(ctx, data.Role)
			if requestID := c.Response().Header().Get(echo.HeaderXRequestID); requestID != "" {
				ctx = tenant.WithRequestID(ctx, requestID)
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// MetricsMiddleware records request counts and latencies per method, route
// template and status code.
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			observer.RecordHTTPRequest(
				c.Request().Method,
				c.Path(),
				strconv.Itoa(c.Response().Status),
				time.Since(start))
			return err
		}
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
