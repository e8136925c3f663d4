package http

import (
	"context"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/studiolink/smshub/internal/service/conversation"
)

type Conversations interface {
	GetConversation(ctx context.Context, q conversation.Query) ([]conversation.UIMessage, error)
}

func conversationHandler(svc Conversations) echo.HandlerFunc {
	return func(c echo.Context) error {
		q := conversation.Query{
			Mobile:    strings.TrimSpace(c.QueryParam("mobile")),
			StudioID:  strings.TrimSpace(c.QueryParam("studioId")),
			ContactID: strings.TrimSpace(c.QueryParam("contactId")),
		}
		msgs, err := svc.GetConversation(c.Request().Context(), q)
		if err != nil {
			return writeError(c, err)
		}
		if msgs == nil {
			msgs = []conversation.UIMessage{}
		}
		return c.JSON(http.StatusOK, map[string]any{
			"count":    len(msgs),
			"messages": msgs,
		})
	}
}
