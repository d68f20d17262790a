package main

import (
	"context"
	"fmt"
	"strconv"

	idb "outreach_engine/internal/infra/database"
	"outreach_engine/internal/infra/logger"

	"github.com/spf13/cobra"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down [steps]]",
		Short:     "Apply or roll back database migrations",
		Args:      cobra.RangeArgs(0, 2),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := idb.NewPostgresConnection(context.Background(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			direction := "up"
			if len(args) > 0 {
				direction = args[0]
			}
			switch direction {
			case "up":
				if err := idb.MigrateUp(db); err != nil {
					return err
				}
			case "down":
				steps := 1
				if len(args) == 2 {
					steps, err = strconv.Atoi(args[1])
					if err != nil || steps <= 0 {
						return fmt.Errorf("invalid steps %q", args[1])
					}
				}
				if err := idb.MigrateDown(db, steps); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown direction %q, want up or down", direction)
			}
			logger.Log.WithField("direction", direction).Info("Migrations applied")
			return nil
		},
	}
}
