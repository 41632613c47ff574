// Command tokenctl inspects cursors and walks the multichain token list.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tokenctl",
		Short:         "Operator tools for the multichain token API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	verbose := root.PersistentFlags().BoolP("verbose", "v", false, "log every source batch")
	root.PersistentPreRun = func(*cobra.Command, []string) {
		level := zerolog.WarnLevel
		if *verbose {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	root.AddCommand(cursorCommand(), walkCommand())
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("tokenctl failed")
		os.Exit(1)
	}
}
