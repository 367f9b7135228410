// Package pagination reads limit/offset query parameters and shapes list
// responses.
package pagination

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params is one page request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit and ?offset. Missing values take the defaults and
// an oversized limit is clamped to MaxLimit. A value that is not a
// non-negative integer is a 400 rather than being silently replaced.
func FromContext(c echo.Context) (Params, error) {
	p := Params{Limit: DefaultLimit}

	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Params{}, badParam("limit", raw)
		}
		p.Limit = min(n, MaxLimit)
	}
	if raw := c.QueryParam("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Params{}, badParam("offset", raw)
		}
		p.Offset = n
	}
	return p, nil
}

func badParam(name, raw string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, map[string]string{
		"error":   "invalid_pagination",
		"message": name + " must be a non-negative integer, got " + strconv.Quote(raw),
	})
}

// Page is one page of a list endpoint. NextOffset is nil on the last page.
type Page[T any] struct {
	Data       []T  `json:"data"`
	Total      int  `json:"total"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	NextOffset *int `json:"next_offset"`
}

// NewPage wraps items. A nil slice is rendered as [].
func NewPage[T any](items []T, total int, p Params) *Page[T] {
	if items == nil {
		items = []T{}
	}
	page := &Page[T]{Data: items, Total: total, Limit: p.Limit, Offset: p.Offset}
	if next := p.Offset + len(items); len(items) > 0 && next < total {
		page.NextOffset = &next
	}
	return page
}
