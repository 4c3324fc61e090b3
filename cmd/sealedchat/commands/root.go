package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Chase-Garrett/sealedchat/internal/auth"
	"github.com/Chase-Garrett/sealedchat/internal/config"
)

var (
	configFile string
	v          *viper.Viper
)

func Execute() error {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("command failed")
		return err
	}
	return nil
}

func newRootCmd() *cobra.Command {
	v = config.New()

	root := &cobra.Command{
		Use:           "sealedchat",
		Short:         "End-to-end encrypted chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.BindFlags(v, cmd.Flags())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (yaml, toml or json)")
	pf.String("db", "./chat.db", "SQLite database path")
	pf.String("secret", "", "token signing secret (or SEALEDCHAT_AUTH_SECRET)")
	pf.Duration("token-ttl", auth.DefaultTokenTTL, "token lifetime")
	pf.String("log-level", "info", "log level")
	pf.String("log-format", "text", "log format: text or json")

	root.AddCommand(serveCmd(), tokenCmd(), migrateCmd())
	return root
}

// loadConfig resolves the config and the logger for a command. validate
// checks only the sections the command uses.
func loadConfig(validate func(*config.Config) error) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Read(v, configFile)
	if err != nil {
		return nil, nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, nil, err
	}
	log, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
