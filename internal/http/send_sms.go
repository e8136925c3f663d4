package http

import (
	"net/http"
	"strings"
	"unicode/utf8"

	echo "github.com/labstack/echo/v4"
	"github.com/studiolink/smshub/internal/dispatcher"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/util"
)

const maxBodyRunes = 1600

type contactReq struct {
	ID        string `json:"id"`
	Module    string `json:"module"`
	SMSOptOut bool   `json:"SMS_Opt_Out"`
}

type sendReq struct {
	To             string      `json:"to"`
	From           string      `json:"from"`
	Message        string      `json:"message"`
	StudioID       string      `json:"studioId"`
	SelectedSender string      `json:"selectedSender"`
	Contact        *contactReq `json:"contact"`
}

func sendMessageHandler(sender dispatcher.Sender) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req sendReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.Message = strings.TrimSpace(req.Message)
		if util.NormalizePhone(req.To) == "" || req.Message == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "to and message are required"})
		}
		if !util.ValidPhone(req.To) || (strings.TrimSpace(req.From) != "" && !util.ValidPhone(req.From)) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid phone number"})
		}
		if utf8.RuneCountInString(req.Message) > maxBodyRunes {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "message too long"})
		}

		dreq := dispatcher.SendRequest{
			To:             req.To,
			From:           req.From,
			Body:           req.Message,
			StudioID:       strings.TrimSpace(req.StudioID),
			SelectedSender: req.SelectedSender,
		}
		if req.Contact != nil {
			dreq.Contact = &model.Contact{
				ID:        req.Contact.ID,
				Module:    req.Contact.Module,
				Mobile:    util.NormalizePhone(req.To),
				SMSOptOut: req.Contact.SMSOptOut,
			}
		}

		res, err := sender.Send(c.Request().Context(), dreq)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}
