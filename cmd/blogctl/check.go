package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
)

func NewCheckCommand() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "List the users and posts stored in Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := targetURL(dsn)
			if err != nil {
				return err
			}

			conn, err := pgx.Connect(cmd.Context(), url)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer conn.Close(cmd.Context())

			return printContents(cmd.Context(), conn, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&dsn, "db", "", "Postgres connection URL (defaults to $DATABASE_URL)")

	return cmd
}

func printContents(ctx context.Context, conn *pgx.Conn, w io.Writer) error {
	fmt.Fprintln(w, "--- Users in DB ---")

	rows, _ := conn.Query(ctx, "SELECT id, username FROM users ORDER BY id")
	var (
		id       int64
		username string
	)
	_, err := pgx.ForEachRow(rows, []any{&id, &username}, func() error {
		_, err := fmt.Fprintf(w, "ID: %d, Username: %s\n", id, username)
		return err
	})
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	fmt.Fprintln(w, "\n--- Posts in DB ---")

	rows, _ = conn.Query(ctx, "SELECT id, title, user_id FROM posts ORDER BY id")
	var (
		title    string
		authorID int64
	)
	_, err = pgx.ForEachRow(rows, []any{&id, &title, &authorID}, func() error {
		_, err := fmt.Fprintf(w, "ID: %d, Title: %s, Author ID: %d\n", id, title, authorID)
		return err
	})
	if err != nil {
		return fmt.Errorf("list posts: %w", err)
	}

	return nil
}

func targetURL(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v, nil
	}

	return "", errors.New("no Postgres URL: pass a flag or set DATABASE_URL")
}
