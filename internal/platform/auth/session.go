package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// DashboardRoute maps a role to the landing screen a client should route to.
// Clients navigate from this value rather than from locally stored flags.
func DashboardRoute(r Role) string {
	switch r {
	case RolePatient:
		return "/patient/dashboard"
	case RoleDoctor:
		return "/doctor/dashboard"
	case RoleStaff:
		return "/staff/dashboard"
	case RoleAdmin:
		return "/admin/dashboard"
	default:
		return "/"
	}
}

type SessionResponse struct {
	Principal
	Dashboard string `json:"dashboard"`
}

func SessionHandler(c echo.Context) error {
	p, err := MustPrincipal(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SessionResponse{Principal: p, Dashboard: DashboardRoute(p.Role)})
}
