package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/Chase-Garrett/sealedchat/internal/config"
	"github.com/Chase-Garrett/sealedchat/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, log, err := loadConfig((*config.Config).Validate)
			if err != nil {
				return err
			}

			srv, err := server.New(cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Append(err, srv.Close())
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.WithField("fanout", cfg.Fanout.Driver).Info("starting sealedchat")
			return srv.ListenAndServe(ctx)
		},
	}

	f := cmd.Flags()
	f.String("addr", ":8080", "listen address")
	f.Bool("strict-auth", false, "reject requests carrying an invalid token instead of serving them anonymously")
	f.String("fanout", config.DriverMemory, "fan-out driver: memory or nats")
	f.String("nats-url", "nats://127.0.0.1:4222", "NATS server URL for the nats fan-out")
	f.String("tracing", config.ExporterNone, "trace exporter: none or stdout")
	return cmd
}
