package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"travel-blog/schema"
)

type migrateOptions struct {
	From   string
	To     string
	DryRun bool
}

func NewMigrateCommand() *cobra.Command {
	opts := &migrateOptions{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy every row from the embedded SQLite database into Postgres",
		Long: `Reads users, posts, post images and comments from the SQLite file and
replaces the content of the Postgres database with them. Row ids are kept.
The whole copy runs in one transaction.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "instance/travel.db", "path to the SQLite database")
	cmd.Flags().StringVar(&opts.To, "to", "", "Postgres connection URL (defaults to $DATABASE_URL)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "read the source and report counts without writing")

	return cmd
}

func runMigrate(ctx context.Context, cmd *cobra.Command, opts *migrateOptions) error {
	src, err := openSource(opts.From)
	if err != nil {
		return err
	}
	defer src.Close()

	snap, err := readSnapshot(ctx, src, time.Now())
	if err != nil {
		return err
	}

	if dropped := snap.dropOrphans(); dropped > 0 {
		slog.Warn("Dropped orphaned rows", "count", dropped)
	}

	slog.Info("Read source database",
		"users", len(snap.Users),
		"posts", len(snap.Posts),
		"images", len(snap.Images),
		"comments", len(snap.Comments),
	)

	if opts.DryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "dry run, nothing written")
		return nil
	}

	dsn, err := targetURL(opts.To)
	if err != nil {
		return err
	}

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect target: %w", err)
	}
	defer conn.Close(ctx)

	if err := writeSnapshot(ctx, conn, snap); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "migrated %d users, %d posts, %d images, %d comments\n",
		len(snap.Users), len(snap.Posts), len(snap.Images), len(snap.Comments))

	return nil
}

// writeSnapshot replaces the target content with snap in one transaction.
func writeSnapshot(ctx context.Context, conn *pgx.Conn, snap *snapshot) error {
	return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, schema.SQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}

		if _, err := tx.Exec(ctx, "TRUNCATE comments, post_images, posts, users RESTART IDENTITY CASCADE"); err != nil {
			return fmt.Errorf("truncate target: %w", err)
		}

		copies := []struct {
			table   string
			columns []string
			rows    [][]any
		}{
			{"users", []string{"id", "username", "password"}, userRows(snap.Users)},
			{"posts", []string{"id", "title", "content", "image_url", "user_id", "created_at", "updated_at"}, postRows(snap.Posts)},
			{"post_images", []string{"id", "url", "post_id"}, imageRows(snap.Images)},
			{"comments", []string{"id", "text", "user_id", "post_id", "created_at"}, commentRows(snap.Comments)},
		}

		for _, c := range copies {
			n, err := tx.CopyFrom(ctx, pgx.Identifier{c.table}, c.columns, pgx.CopyFromRows(c.rows))
			if err != nil {
				return fmt.Errorf("copy %s: %w", c.table, err)
			}
			slog.Debug("Copied rows", "table", c.table, "rows", n)
		}

		for _, table := range schema.Tables {
			if err := resetSequence(ctx, tx, table); err != nil {
				return err
			}
		}

		return nil
	})
}

// resetSequence moves the id sequence past the copied ids.
func resetSequence(ctx context.Context, tx pgx.Tx, table string) error {
	query := fmt.Sprintf(
		"SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), COALESCE((SELECT MAX(id) FROM %[1]s), 0) + 1, false)",
		table,
	)

	if _, err := tx.Exec(ctx, query); err != nil {
		return fmt.Errorf("reset %s sequence: %w", table, err)
	}

	return nil
}

func userRows(users []userRow) [][]any {
	rows := make([][]any, len(users))
	for i, u := range users {
		rows[i] = []any{u.ID, u.Username, u.Password}
	}
	return rows
}

func postRows(posts []postRow) [][]any {
	rows := make([][]any, len(posts))
	for i, p := range posts {
		var imageURL any
		if p.ImageURL.Valid {
			imageURL = p.ImageURL.String
		}
		rows[i] = []any{p.ID, p.Title, p.Content, imageURL, p.UserID, p.CreatedAt, p.UpdatedAt}
	}
	return rows
}

func imageRows(images []imageRow) [][]any {
	rows := make([][]any, len(images))
	for i, img := range images {
		rows[i] = []any{img.ID, img.URL, img.PostID}
	}
	return rows
}

func commentRows(comments []commentRow) [][]any {
	rows := make([][]any, len(comments))
	for i, c := range comments {
		rows[i] = []any{c.ID, c.Text, c.UserID, c.PostID, c.CreatedAt}
	}
	return rows
}
