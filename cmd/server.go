package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/seat-scheduler/internal/config"
	"github.com/example/seat-scheduler/internal/db"
	"github.com/example/seat-scheduler/internal/migrate"
	"github.com/example/seat-scheduler/internal/notify"
	"github.com/example/seat-scheduler/internal/scheduler"
	"github.com/example/seat-scheduler/internal/statuscache"
	"github.com/example/seat-scheduler/internal/tasks"
	"github.com/example/seat-scheduler/internal/traceint"
	"github.com/example/seat-scheduler/internal/users"
	"github.com/example/seat-scheduler/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the API server + scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}

			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			userRepo := users.NewRepo(d)
			credRepo := users.NewCredentialRepo(d, cfg.CredHashKey, cfg.CredBlockKey)
			taskRepo := tasks.NewRepo(d)
			cacheRepo := statuscache.NewRepo(d)
			pushRepo := notify.NewRepo(d)
			notifier := notify.New(pushRepo, pushRepo)
			backend := traceint.New()

			// scheduler
			s := &scheduler.Scheduler{
				Tasks:             taskRepo,
				Creds:             credRepo,
				Cache:             cacheRepo,
				Monitored:         pushRepo,
				Backend:           backend,
				Notify:            notifier,
				Loc:               cfg.Timezone,
				MonitorInterval:   cfg.MonitorInterval,
				KeepAliveInterval: cfg.KeepAliveInterval,
				TickWindow:        cfg.TickWindow,
			}
			go func() { _ = s.Run(ctx) }()

			// web
			ws := &web.Server{
				Users:      userRepo,
				Creds:      credRepo,
				Tasks:      taskRepo,
				Push:       pushRepo,
				Notify:     notifier,
				Sched:      s,
				Client:     backend,
				JWTSecret:  []byte(cfg.JWTSecret),
				CronSecret: cfg.CronSecret,
			}
			return web.Start(ctx, cfg.ListenAddr, ws.Handler())
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")

	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}
