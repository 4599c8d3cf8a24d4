package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/seat-scheduler/internal/config"
	"github.com/example/seat-scheduler/internal/db"
	"github.com/example/seat-scheduler/internal/migrate"
	"github.com/example/seat-scheduler/internal/users"
)

func newInviteCmd() *cobra.Command {
	var n int

	c := &cobra.Command{
		Use:   "invite",
		Short: "Generate invite codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			ctx := context.Background()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := migrate.Up(ctx, d); err != nil {
				return err
			}

			codes, err := users.NewRepo(d).NewInviteCodes(ctx, n)
			if err != nil {
				return err
			}
			for _, code := range codes {
				fmt.Fprintln(os.Stdout, code)
			}
			return nil
		},
	}

	c.Flags().IntVar(&n, "count", 1, "number of codes to generate")
	return c
}
