// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func RegisterBotCommands(b *telebot.Bot, adminTelegramID int64, baseLogger *logrus.Entry) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")

		if senderID == adminTelegramID {
			return c.Send(fmt.Sprintf("Hello %s! Campaign notifications will arrive here. Use /help for the command list.", c.Sender().FirstName))
		}
		logCtx.Info("User is unknown")
		return c.Send("This bot is reserved for the outreach operator.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		if senderID != adminTelegramID {
			return c.Send("No commands are available to you.")
		}
		return c.Send(helpText(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})
}

func helpText() string {
	var sb strings.Builder
	sb.WriteString("Operator commands:\n\n")
	sb.WriteString("`/pause <campaign id>`\n - Stop sending for a campaign.\n\n")
	sb.WriteString("`/resume <campaign id>`\n - Start or resume a campaign.\n\n")
	sb.WriteString("`/stats <campaign id>`\n - Lead counts by status.\n\n")
	sb.WriteString("`/lead <lead id>`\n - Show a lead with kanban buttons.\n\n")
	sb.WriteString("`/help`\n - Show this message.")
	return sb.String()
}
