package cmd

import (
	"errors"
	"fmt"
	"github.com/react-chatbotify/discord-bot/bot"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and seed the ticket counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			return errors.New("database type not set (must be one of: sqlite, postgres, mysql)")
		}
		dsn := cfg.DSN()
		if dsn == "" {
			return errors.New(
				"database not set (must be a valid database connection " +
					"string or sqlite file path)",
			)
		}

		db, err := bot.CreateDB(ctx, cfg.DatabaseType, dsn)
		if err != nil {
			return fmt.Errorf("error creating database: %w", err)
		}
		if sqlDB, e := db.DB(); e == nil {
			defer func() {
				_ = sqlDB.Close()
			}()
		}

		var counters []bot.TicketCounter
		if err = db.WithContext(ctx).Order("counter_type").Find(&counters).Error; err != nil {
			return fmt.Errorf("error reading ticket counters: %w", err)
		}

		out := cmd.OutOrStdout()
		for _, c := range counters {
			_, _ = fmt.Fprintf(out, "%s: %d\n", c.CounterType, c.CurrentCount)
		}
		_, _ = fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
		return nil
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(initCmd)
}
