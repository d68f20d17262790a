package telegram

import (
	"context"
	"fmt"
	"strconv"

	"outreach_engine/internal/domain/campaign"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const moveUnique = "mv"

var moveTargets = []struct {
	label  string
	status campaign.CadenceStatus
}{
	{"Replied", campaign.CadenceReplied},
	{"Converted", campaign.CadenceConverted},
	{"Lost", campaign.CadenceLost},
	{"Stop", campaign.CadenceStopped},
}

// leadMoveMarkup builds the kanban buttons shown under a lead.
func leadMoveMarkup(leadID int64) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	id := strconv.FormatInt(leadID, 10)
	row := make([]telebot.Btn, 0, len(moveTargets))
	for _, t := range moveTargets {
		row = append(row, markup.Data(t.label, moveUnique, string(t.status), id))
	}
	markup.Inline(markup.Row(row...))
	return markup
}

// RegisterLeadMoveHandlers handles the kanban buttons: data is "<status>|<lead id>".
func RegisterLeadMoveHandlers(ctx context.Context, b *telebot.Bot, op OperatorBackend, adminTelegramID int64, baseLogger *logrus.Entry) {
	b.Handle(&telebot.Btn{Unique: moveUnique}, func(c telebot.Context) error {
		log := baseLogger.WithFields(logrus.Fields{"handler": "lead_move", "sender_id": c.Sender().ID})
		if c.Sender().ID != adminTelegramID {
			log.Warn("Unauthorized access attempt")
			return c.Respond(&telebot.CallbackResponse{Text: msgNotAuthorized})
		}

		args := c.Args()
		if len(args) != 2 {
			c.Bot().OnError(fmt.Errorf("invalid lead move callback data: %q", c.Callback().Data), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Invalid action."})
		}
		leadID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			c.Bot().OnError(fmt.Errorf("invalid lead id %q in callback: %w", args[1], err), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Invalid lead id."})
		}
		to := campaign.CadenceStatus(args[0])
		log = log.WithFields(logrus.Fields{"lead_id": leadID, "to": to})

		lead, err := op.MoveLead(ctx, leadID, to, "")
		if err != nil {
			log.WithError(err).Warn("Lead move failed")
			return c.Respond(&telebot.CallbackResponse{Text: "Not moved: " + err.Error()})
		}
		log.Info("Lead moved")
		if err := c.Edit(formatLead(lead), &telebot.SendOptions{ReplyMarkup: leadMoveMarkup(lead.ID)}); err != nil {
			log.WithError(err).Debug("Could not refresh lead message")
		}
		return c.Respond(&telebot.CallbackResponse{Text: fmt.Sprintf("Moved to %s", to)})
	})
}
