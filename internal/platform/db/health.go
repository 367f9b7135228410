package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthPingTimeout = 3 * time.Second

// Pinger is the slice of *pgxpool.Pool the health endpoint needs.
type Pinger interface {
	Ping(ctx context.Context) error
	Stat() *pgxpool.Stat
}

// storeHealth is the /health/db body. Saturated is set when every pooled
// connection is checked out, which is when lifecycle writes start queueing.
type storeHealth struct {
	Status    string `json:"status"`
	Store     string `json:"store"`
	Error     string `json:"error,omitempty"`
	InUse     int32  `json:"conns_in_use"`
	Idle      int32  `json:"conns_idle"`
	Capacity  int32  `json:"conns_max"`
	Saturated bool   `json:"saturated"`
}

func snapshot(stat *pgxpool.Stat) storeHealth {
	h := storeHealth{Store: "postgres"}
	if stat == nil {
		return h
	}
	h.InUse = stat.AcquiredConns()
	h.Idle = stat.IdleConns()
	h.Capacity = stat.MaxConns()
	h.Saturated = h.Capacity > 0 && h.InUse >= h.Capacity
	return h
}

// HealthHandler reports whether the appointment store is reachable. An
// unreachable store is a 503 so an instance that cannot record transitions
// drops out of rotation.
func HealthHandler(p Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
		defer cancel()

		h := snapshot(p.Stat())
		if err := p.Ping(ctx); err != nil {
			h.Status = "unavailable"
			h.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, h)
		}
		h.Status = "ok"
		return c.JSON(http.StatusOK, h)
	}
}
