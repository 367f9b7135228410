package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func contextWithRole(role Role) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithPrincipal(req.Context(), Principal{UserID: uuid.New(), Role: role}))
	return e.NewContext(req, httptest.NewRecorder())
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name    string
		role    Role
		allowed []Role
		want    int
	}{
		{"matching role", RoleStaff, []Role{RoleStaff}, http.StatusOK},
		{"one of several", RoleDoctor, []Role{RoleStaff, RoleDoctor}, http.StatusOK},
		{"admin always passes", RoleAdmin, []Role{RoleStaff}, http.StatusOK},
		{"wrong role", RolePatient, []Role{RoleStaff}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := contextWithRole(tt.role)
			h := RequireRole(tt.allowed...)(func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			})
			err := h(c)
			if tt.want == http.StatusOK {
				if err != nil {
					t.Fatalf("expected access, got %v", err)
				}
				return
			}
			expectStatus(t, err, tt.want)
		})
	}
}

func TestRequireRole_NoPrincipal(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	h := RequireRole(RoleStaff)(func(c echo.Context) error { return nil })
	expectStatus(t, h(c), http.StatusUnauthorized)
}

func TestDashboardRoute(t *testing.T) {
	tests := map[Role]string{
		RolePatient: "/patient/dashboard",
		RoleDoctor:  "/doctor/dashboard",
		RoleStaff:   "/staff/dashboard",
		RoleAdmin:   "/admin/dashboard",
		RoleSystem:  "/",
	}
	for role, want := range tests {
		if got := DashboardRoute(role); got != want {
			t.Errorf("DashboardRoute(%s) = %s, want %s", role, got, want)
		}
	}
}

func TestIsPublicPath(t *testing.T) {
	if !IsPublicPath("/health") || !IsPublicPath("/api/v1/payments/callback") {
		t.Error("expected health and payment callback to be public")
	}
	if IsPublicPath("/api/v1/appointments") {
		t.Error("appointments must require auth")
	}
}
