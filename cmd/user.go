package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/seat-scheduler/internal/auth"
	"github.com/example/seat-scheduler/internal/config"
	"github.com/example/seat-scheduler/internal/db"
	"github.com/example/seat-scheduler/internal/migrate"
	"github.com/example/seat-scheduler/internal/users"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(newUserAddCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var username, password, invite string
	var admin bool

	c := &cobra.Command{
		Use:   "add",
		Short: "Add a user against an unused invite code",
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

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			id, err := users.NewRepo(d).Create(ctx, username, hash, invite, admin)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "created user %q (id=%d)\n", username, id)
			return nil
		},
	}

	c.Flags().StringVar(&username, "username", "", "username")
	c.Flags().StringVar(&password, "password", "", "password")
	c.Flags().StringVar(&invite, "invite-code", "", "invite code to redeem")
	c.Flags().BoolVar(&admin, "admin", false, "grant admin")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("password")
	_ = c.MarkFlagRequired("invite-code")
	return c
}
