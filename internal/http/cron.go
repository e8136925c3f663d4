package http

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/studiolink/smshub/internal/service/sweep"
	"go.uber.org/zap"
)

type Sweeper interface {
	Run(ctx context.Context) (sweep.Report, error)
}

// cronFollowUpsHandler triggers one sweep. Failures are reported in the body
// with status 200, like the webhooks.
func cronFollowUpsHandler(s Sweeper, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		rep, err := s.Run(c.Request().Context())
		if err != nil {
			log.Error("cron follow-up sweep", zap.Error(err))
			return c.JSON(http.StatusOK, map[string]any{"ok": false, "message": "sweep failed"})
		}
		if rep.Message != "" {
			return c.JSON(http.StatusOK, map[string]any{"ok": rep.OK, "message": rep.Message})
		}
		return c.JSON(http.StatusOK, map[string]any{"results": rep.Results})
	}
}
