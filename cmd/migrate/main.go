package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/noor-atelier/backend/internal/config"
)

const versionTimeFormat = "20060102150405"

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{Use: "migrate"}
	rootCmd.AddCommand(
		createCommand(),
		upCommand(),
		downCommand(),
	)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create [name]",
		Short: "create empty up/down sql migration files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version := time.Now().Format(versionTimeFormat)
			up := fmt.Sprintf("migrations/%s_%s.up.sql", version, args[0])
			down := fmt.Sprintf("migrations/%s_%s.down.sql", version, args[0])
			if err := os.WriteFile(up, []byte{}, 0644); err != nil {
				return err
			}
			if err := os.WriteFile(down, []byte{}, 0644); err != nil {
				return err
			}
			fmt.Println("created", up, down)
			return nil
		},
	}
}

func newMigrator() (*migrate.Migrate, error) {
	cfg := config.Load()
	// route through the pgx/v5 migrate driver
	dsn := strings.Replace(cfg.PostgresDSN, "postgres://", "pgx5://", 1)
	return migrate.New("file://migrations", dsn)
}

func upCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}
			if err := m.Up(); err != nil && err != migrate.ErrNoChange {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func downCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "roll back the last migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}
			if err := m.Steps(-1); err != nil {
				return err
			}
			fmt.Println("rolled back one migration")
			return nil
		},
	}
}
