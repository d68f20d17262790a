package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"outreach_engine/internal/app"
	idb "outreach_engine/internal/infra/database"
	"outreach_engine/internal/infra/leadimport"
	"outreach_engine/internal/infra/logger"

	"github.com/spf13/cobra"
)

func importCommand() *cobra.Command {
	var (
		req       app.BuildRequest
		stepsFile string
		messages  []string
		schedule  string
	)
	cmd := &cobra.Command{
		Use:   "import <leads.csv>",
		Short: "Create a campaign from a CSV lead file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open lead file: %w", err)
			}
			records, err := leadimport.Parse(f)
			f.Close()
			if err != nil {
				return err
			}
			for _, r := range records {
				req.Leads = append(req.Leads, app.LeadInput{Name: r.Name, Phone: r.Phone})
			}

			switch {
			case stepsFile != "":
				raw, err := os.ReadFile(stepsFile)
				if err != nil {
					return fmt.Errorf("failed to read steps file: %w", err)
				}
				if err := json.Unmarshal(raw, &req.Steps); err != nil {
					return fmt.Errorf("failed to decode steps file: %w", err)
				}
			case len(messages) > 0:
				req.Steps = []app.StepInput{{Messages: messages}}
			default:
				return fmt.Errorf("either --steps or --message is required")
			}
			if schedule != "" {
				at, err := time.ParseInLocation("2006-01-02 15:04", schedule, cfg.Timezone)
				if err != nil {
					return fmt.Errorf("invalid --schedule: %w", err)
				}
				req.ScheduledAt = &at
			}

			ctx := context.Background()
			db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			log := logger.Component("import")
			leadRepo := idb.NewPostgresLeadRepository(db)
			quotaSvc := app.NewQuotaService(idb.NewPostgresQuotaRepository(db), leadRepo, cfg.Timezone, log)
			builder := app.NewCampaignBuilder(idb.NewPostgresCampaignRepository(db), idb.NewPostgresInstanceRepository(db),
				quotaSvc, idb.NewTxProvider(db), log)

			c, stored, err := builder.Build(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "campaign %d created with %d leads (status %s)\n", c.ID, stored, c.Status)
			if dropped := len(req.Leads) - stored; dropped > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d rows skipped: empty or duplicate phone\n", dropped)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Int64Var(&req.OwnerID, "owner", 0, "owner account id")
	flags.StringVar(&req.Name, "name", "", "campaign name")
	flags.StringVar((*string)(&req.RotationMode), "rotation", "single", "instance rotation: single or round_robin")
	flags.IntVar(&req.DailyLimit, "daily-limit", 0, "campaign daily send limit (0 = plan limit only)")
	flags.BoolVar(&req.CadenceEnabled, "cadence", false, "enable follow-up steps")
	flags.Int64SliceVar(&req.InstanceIDs, "instance", nil, "instance id to send from (repeatable)")
	flags.BoolVar(&req.Start, "start", false, "start dispatching immediately")
	flags.StringVar(&stepsFile, "steps", "", "JSON file with the campaign steps")
	flags.StringArrayVar(&messages, "message", nil, "first step message variant (repeatable)")
	flags.StringVar(&schedule, "schedule", "", "start time, \"YYYY-MM-DD HH:MM\" in TIMEZONE")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
