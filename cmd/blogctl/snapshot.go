package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/exp/slog"
	_ "modernc.org/sqlite"
)

type userRow struct {
	ID       int64
	Username string
	Password string
}

type postRow struct {
	ID        int64
	Title     string
	Content   string
	ImageURL  sql.NullString
	UserID    int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type imageRow struct {
	ID     int64
	URL    string
	PostID int64
}

type commentRow struct {
	ID        int64
	Text      string
	UserID    int64
	PostID    int64
	CreatedAt time.Time
}

// snapshot is the full content of the embedded database.
type snapshot struct {
	Users    []userRow
	Posts    []postRow
	Images   []imageRow
	Comments []commentRow
}

func openSource(path string) (*sql.DB, error) {
	// sqlite would silently create a missing file.
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return db, nil
}

// readSnapshot loads every row from the embedded layout (tables user, post,
// post_image, comment). Missing child tables read as empty.
func readSnapshot(ctx context.Context, db *sql.DB, now time.Time) (*snapshot, error) {
	var snap snapshot

	err := readRows(ctx, db, `SELECT id, username, password FROM "user" ORDER BY id`, func(rows *sql.Rows) error {
		var u userRow
		if err := rows.Scan(&u.ID, &u.Username, &u.Password); err != nil {
			return err
		}
		snap.Users = append(snap.Users, u)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}

	const posts = `
	SELECT id, title, content, image_url, user_id,
		CAST(created_at AS TEXT), CAST(updated_at AS TEXT)
	FROM post ORDER BY id
	`
	err = readRows(ctx, db, posts, func(rows *sql.Rows) error {
		var (
			p                postRow
			created, updated sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Title, &p.Content, &p.ImageURL, &p.UserID, &created, &updated); err != nil {
			return err
		}

		var err error
		if p.CreatedAt, err = parseTimestamp(created, now); err != nil {
			return err
		}
		if p.UpdatedAt, err = parseTimestamp(updated, p.CreatedAt); err != nil {
			return err
		}

		snap.Posts = append(snap.Posts, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read posts: %w", err)
	}

	if ok, err := tableExists(ctx, db, "post_image"); err != nil {
		return nil, err
	} else if ok {
		err := readRows(ctx, db, `SELECT id, url, post_id FROM post_image ORDER BY id`, func(rows *sql.Rows) error {
			var img imageRow
			if err := rows.Scan(&img.ID, &img.URL, &img.PostID); err != nil {
				return err
			}
			snap.Images = append(snap.Images, img)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("read post images: %w", err)
		}
	}

	if ok, err := tableExists(ctx, db, "comment"); err != nil {
		return nil, err
	} else if ok {
		const comments = `SELECT id, text, user_id, post_id, CAST(created_at AS TEXT) FROM comment ORDER BY id`
		err := readRows(ctx, db, comments, func(rows *sql.Rows) error {
			var (
				c       commentRow
				created sql.NullString
			)
			if err := rows.Scan(&c.ID, &c.Text, &c.UserID, &c.PostID, &created); err != nil {
				return err
			}

			var err error
			if c.CreatedAt, err = parseTimestamp(created, now); err != nil {
				return err
			}

			snap.Comments = append(snap.Comments, c)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("read comments: %w", err)
		}
	}

	return &snap, nil
}

// dropOrphans removes rows whose parents are missing. The embedded database
// never enforced foreign keys, the target does.
func (s *snapshot) dropOrphans() int {
	users := make(map[int64]bool, len(s.Users))
	for _, u := range s.Users {
		users[u.ID] = true
	}

	dropped := 0
	posts := make(map[int64]bool, len(s.Posts))
	keptPosts := s.Posts[:0]
	for _, p := range s.Posts {
		if !users[p.UserID] {
			slog.Warn("Skipping post without author", "post_id", p.ID, "user_id", p.UserID)
			dropped++
			continue
		}
		posts[p.ID] = true
		keptPosts = append(keptPosts, p)
	}
	s.Posts = keptPosts

	keptImages := s.Images[:0]
	for _, img := range s.Images {
		if !posts[img.PostID] {
			slog.Warn("Skipping image without post", "image_id", img.ID, "post_id", img.PostID)
			dropped++
			continue
		}
		keptImages = append(keptImages, img)
	}
	s.Images = keptImages

	keptComments := s.Comments[:0]
	for _, c := range s.Comments {
		if !posts[c.PostID] || !users[c.UserID] {
			slog.Warn("Skipping orphaned comment", "comment_id", c.ID, "post_id", c.PostID, "user_id", c.UserID)
			dropped++
			continue
		}
		keptComments = append(keptComments, c)
	}
	s.Comments = keptComments

	return dropped
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	time.RFC3339Nano,
}

// parseTimestamp reads the naive UTC strings the embedded database stores.
func parseTimestamp(s sql.NullString, fallback time.Time) (time.Time, error) {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return fallback.UTC(), nil
	}

	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s.String, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s.String)
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)

	return n > 0, err
}

func readRows(ctx context.Context, db *sql.DB, query string, fn func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}

	return rows.Err()
}
