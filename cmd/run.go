package cmd

import (
	"github.com/react-chatbotify/discord-bot/bot"
	"github.com/spf13/cobra"
	"log"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the bot and (optionally) the webhook server",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			b, err := bot.New(cfg)
			if err != nil {
				log.Fatalf("error creating bot: %s", err.Error())
			}
			watchLogLevels(b)

			if err = b.Run(ctx); err != nil {
				log.Fatalf("error running bot: %s", err.Error())
			}
		},
	}
)

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
