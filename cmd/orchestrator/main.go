package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/a2a-guard/internal/infra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configDir string
	embedded  bool
	logLevel  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "orchestrator",
		Short:         "Requesting agent: discovers provider tools and answers behind a safety pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configDir, "config", "", "extra directory to search for config.yaml")
	cmd.PersistentFlags().BoolVar(&opts.embedded, "embedded", false, "run the provider registry in-process instead of dialing it")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logger.level")

	cmd.AddCommand(newChatCmd(opts), newAskCmd(opts), newServeCmd(opts))
	return cmd
}

// load собирает конфиг и логгер с учетом флагов.
func (o *rootOptions) load(cmd *cobra.Command) (*infra.Config, *zap.Logger, error) {
	_ = godotenv.Load()

	var paths []string
	if o.configDir != "" {
		paths = append(paths, o.configDir)
	}
	cfg, err := infra.LoadConfig(paths...)
	if err != nil {
		return nil, nil, err
	}
	if cmd.Flags().Changed("embedded") {
		cfg.Provider.Embedded = o.embedded
	}
	if o.logLevel != "" {
		cfg.Logger.Level = o.logLevel
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Printf("logger: %v", err)
		return nil, nil, err
	}
	return cfg, logger, nil
}
