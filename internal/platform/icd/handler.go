package icd

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mccd/mccd/internal/platform/auth"
)

// Searcher is the lookup used by the handler.
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]Result, error)
}

type Handler struct {
	searcher Searcher
}

func NewHandler(searcher Searcher) *Handler {
	return &Handler{searcher: searcher}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.ReadRoles...))
	g.GET("/icd/search", h.Search)
}

func (h *Handler) Search(c echo.Context) error {
	max := 0
	if raw := c.QueryParam("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 50 {
			return echo.NewHTTPError(http.StatusBadRequest, "max must be between 1 and 50")
		}
		max = n
	}

	results, err := h.searcher.Search(c.Request().Context(), c.QueryParam("q"), max)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "classification lookup unavailable")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"results": results,
	})
}
