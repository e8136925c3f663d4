package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/repository"
	"github.com/studiolink/smshub/internal/util"
)

func listMessagesHandler(chRepo repository.CHMessagesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		studioID := strings.TrimSpace(c.QueryParam("studio_id"))
		if studioID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "studio_id is required"})
		}

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		var st model.MessageStatus
		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			if tmp := model.MessageStatus(raw); tmp.Valid() {
				st = tmp
			}
		}

		phone := util.NormalizePhone(c.QueryParam("phone"))

		events, err := chRepo.ListByStudio(c.Request().Context(), studioID, phone, st, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		if events == nil {
			events = []model.MessageEvent{}
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(events),
			"results": events,
		})
	}
}
