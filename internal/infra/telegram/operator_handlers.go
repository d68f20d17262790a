package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"outreach_engine/internal/domain/campaign"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// OperatorBackend is what the bot commands need from the operator service.
type OperatorBackend interface {
	PauseCampaign(ctx context.Context, id int64) (*campaign.Campaign, error)
	ResumeCampaign(ctx context.Context, id int64) (*campaign.Campaign, error)
	CampaignStats(ctx context.Context, id int64) (*campaign.Stats, error)
	GetLead(ctx context.Context, id int64) (*campaign.Lead, error)
	MoveLead(ctx context.Context, leadID int64, to campaign.CadenceStatus, notes string) (*campaign.Lead, error)
}

const msgNotAuthorized = "Error: you are not allowed to run this command."

// RegisterOperatorHandlers registers the campaign and lead commands for the admin.
func RegisterOperatorHandlers(ctx context.Context, b *telebot.Bot, op OperatorBackend, adminTelegramID int64, baseLogger *logrus.Entry) {
	b.Handle("/pause", idCommand("/pause", "campaign", adminTelegramID, baseLogger, func(c telebot.Context, id int64, log *logrus.Entry) error {
		cmp, err := op.PauseCampaign(ctx, id)
		if err != nil {
			return replyError(c, log, err)
		}
		log.Info("Campaign paused")
		return c.Send(fmt.Sprintf("Campaign %d (%s) is now %s.", cmp.ID, cmp.Name, cmp.Status))
	}))

	b.Handle("/resume", idCommand("/resume", "campaign", adminTelegramID, baseLogger, func(c telebot.Context, id int64, log *logrus.Entry) error {
		cmp, err := op.ResumeCampaign(ctx, id)
		if err != nil {
			return replyError(c, log, err)
		}
		log.Info("Campaign resumed")
		return c.Send(fmt.Sprintf("Campaign %d (%s) is now %s.", cmp.ID, cmp.Name, cmp.Status))
	}))

	b.Handle("/stats", idCommand("/stats", "campaign", adminTelegramID, baseLogger, func(c telebot.Context, id int64, log *logrus.Entry) error {
		stats, err := op.CampaignStats(ctx, id)
		if err != nil {
			return replyError(c, log, err)
		}
		return c.Send(formatStats(stats))
	}))

	b.Handle("/lead", idCommand("/lead", "lead", adminTelegramID, baseLogger, func(c telebot.Context, id int64, log *logrus.Entry) error {
		lead, err := op.GetLead(ctx, id)
		if err != nil {
			return replyError(c, log, err)
		}
		return c.Send(formatLead(lead), &telebot.SendOptions{ReplyMarkup: leadMoveMarkup(lead.ID)})
	}))
}

// idCommand wraps a handler taking a single numeric argument, checking the sender first.
func idCommand(name, what string, adminTelegramID int64, baseLogger *logrus.Entry, fn func(c telebot.Context, id int64, log *logrus.Entry) error) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   name,
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if c.Sender().ID != adminTelegramID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send(msgNotAuthorized)
		}

		args := c.Args()
		if len(args) != 1 {
			return c.Send(fmt.Sprintf("Invalid format. Use: %s <%s id>", name, what))
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return c.Send(fmt.Sprintf("Error: %s id must be a positive number.", what))
		}
		return fn(c, id, handlerLogger.WithField(what+"_id", id))
	}
}

func replyError(c telebot.Context, log *logrus.Entry, err error) error {
	logWithError := log.WithError(err)
	switch {
	case errors.Is(err, campaign.ErrCampaignNotFound):
		logWithError.Warn("Campaign not found")
		return c.Send("Campaign not found.")
	case errors.Is(err, campaign.ErrLeadNotFound):
		logWithError.Warn("Lead not found")
		return c.Send("Lead not found.")
	case errors.Is(err, campaign.ErrInvalidTransition):
		logWithError.Warn("Transition rejected")
		return c.Send("Not possible: " + err.Error())
	default:
		logWithError.Error("Command failed")
		return c.Send("Something went wrong: " + err.Error())
	}
}

func formatStats(s *campaign.Stats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Campaign %d: %d leads\n", s.CampaignID, s.Total)
	for _, st := range []campaign.LeadStatus{campaign.LeadStatusPending, campaign.LeadStatusSent, campaign.LeadStatusFailed, campaign.LeadStatusInvalid} {
		fmt.Fprintf(&sb, "  %s: %d\n", st, s.ByStatus[st])
	}
	if len(s.ByCadence) > 0 {
		sb.WriteString("Cadence:\n")
		keys := make([]string, 0, len(s.ByCadence))
		for k := range s.ByCadence {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s: %d\n", k, s.ByCadence[campaign.CadenceStatus(k)])
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatLead(l *campaign.Lead) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Lead %d (campaign %d)\n", l.ID, l.CampaignID)
	fmt.Fprintf(&sb, "%s %s\n", l.Name, l.Phone)
	fmt.Fprintf(&sb, "Status: %s\n", l.Status)
	if l.Error.Valid {
		fmt.Fprintf(&sb, "Error: %s\n", l.Error.String)
	}
	fmt.Fprintf(&sb, "Cadence: %s, step %d", l.CadenceStatus, l.CurrentStep)
	if l.SnoozeUntil.Valid {
		fmt.Fprintf(&sb, ", next at %s", l.SnoozeUntil.Time.Format("2006-01-02 15:04"))
	}
	if l.Notes != "" {
		fmt.Fprintf(&sb, "\nNotes: %s", l.Notes)
	}
	return sb.String()
}
