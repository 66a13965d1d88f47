package main

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lib/pq"
)

const selectPostColumns = `
	SELECT
		p.id,
		p.title,
		p.content,
		p.image_url,
		p.user_id,
		COALESCE(u.username, 'Unknown'),
		p.created_at,
		p.updated_at
	FROM posts p
	LEFT JOIN users u ON u.id = p.user_id
	`

// ListPosts returns posts newest first. A non-empty search keeps only posts
// whose title or content contains it, ignoring case.
func (pg *PostgreSQLDatabase) ListPosts(ctx context.Context, search string) ([]Post, error) {
	const listPosts = selectPostColumns + `
	WHERE $1::text = '' OR p.title ILIKE $2 OR p.content ILIKE $2
	ORDER BY p.created_at DESC, p.id DESC
	`

	return pg.queryPosts(ctx, listPosts, search, "%"+escapeLike(search)+"%")
}

func (pg *PostgreSQLDatabase) ListPostsByUser(ctx context.Context, userID int64) ([]Post, error) {
	const listPostsByUser = selectPostColumns + `
	WHERE p.user_id = $1
	ORDER BY p.created_at DESC, p.id DESC
	`

	return pg.queryPosts(ctx, listPostsByUser, userID)
}

func (pg *PostgreSQLDatabase) GetPost(ctx context.Context, id int64) (PostDetail, error) {
	const getPost = selectPostColumns + `
	WHERE p.id = $1
	`

	var d PostDetail
	row := pg.db.QueryRowContext(ctx, getPost, id)
	if err := scanPost(row, &d.Post); err != nil {
		return PostDetail{}, translateError(err, ErrNotFound)
	}

	posts := []Post{d.Post}
	if err := loadImages(ctx, pg.db, posts); err != nil {
		return PostDetail{}, err
	}
	d.Post = posts[0]

	comments, err := loadComments(ctx, pg.db, id)
	if err != nil {
		return PostDetail{}, err
	}
	d.Comments = comments

	return d, nil
}

// PostOwner returns the user_id of a post.
func (pg *PostgreSQLDatabase) PostOwner(ctx context.Context, id int64) (int64, error) {
	const postOwner = `SELECT user_id FROM posts WHERE id = $1`

	var owner int64
	err := pg.db.QueryRowContext(ctx, postOwner, id).Scan(&owner)

	return owner, translateError(err, ErrNotFound)
}

// CreatePost inserts the post and one post_images row per gallery URL in one
// transaction.
func (pg *PostgreSQLDatabase) CreatePost(ctx context.Context, p NewPost) (int64, error) {
	const createPost = `
	INSERT INTO posts (title, content, image_url, user_id)
	VALUES($1, $2, $3, $4)
	RETURNING id
	`

	var id int64
	err := pg.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, createPost, p.Title, p.Content, p.ImageURL, p.UserID).Scan(&id); err != nil {
			return err
		}

		return insertImages(ctx, tx, id, p.ImageURLs)
	})
	if err != nil {
		return 0, translateError(err, ErrNotFound)
	}

	return id, nil
}

// UpdatePost applies u to the post owned by userID. It returns the gallery
// images that were removed so the caller can drop their files.
func (pg *PostgreSQLDatabase) UpdatePost(ctx context.Context, id, userID int64, u PostUpdate) ([]PostImage, error) {
	const updatePost = `
	UPDATE posts SET
		title = COALESCE($2, title),
		content = COALESCE($3, content),
		image_url = CASE
			WHEN $5::text IS NOT NULL THEN $5::text
			WHEN $4::boolean THEN NULL
			ELSE image_url
		END,
		updated_at = now()
	WHERE id = $1
	`

	var removed []PostImage
	err := pg.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockOwnedPost(ctx, tx, id, userID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, updatePost, id, u.Title, u.Content, u.DeleteCover, u.CoverURL); err != nil {
			return err
		}

		var err error
		if removed, err = deleteImages(ctx, tx, id, u.DeleteImageIDs); err != nil {
			return err
		}

		return insertImages(ctx, tx, id, u.AddImageURLs)
	})
	if err != nil {
		return nil, translateError(err, ErrNotFound)
	}

	return removed, nil
}

// DeletePost removes the post owned by userID along with its images and
// comments.
func (pg *PostgreSQLDatabase) DeletePost(ctx context.Context, id, userID int64) error {
	statements := []string{
		`DELETE FROM comments WHERE post_id = $1`,
		`DELETE FROM post_images WHERE post_id = $1`,
		`DELETE FROM posts WHERE id = $1`,
	}

	return pg.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockOwnedPost(ctx, tx, id, userID); err != nil {
			return err
		}

		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return err
			}
		}

		return nil
	})
}

func (pg *PostgreSQLDatabase) CreateComment(ctx context.Context, postID, userID int64, text string) (Comment, error) {
	const createComment = `
	WITH c AS (
		INSERT INTO comments (text, user_id, post_id)
		VALUES($1, $2, $3)
		RETURNING id, text, user_id, post_id, created_at
	)
	SELECT c.id, c.text, c.user_id, COALESCE(u.username, 'Anonymous'), c.post_id, c.created_at
	FROM c
	LEFT JOIN users u ON u.id = c.user_id
	`

	var c Comment
	err := scanComment(pg.db.QueryRowContext(ctx, createComment, text, userID, postID), &c)

	return c, translateError(err, ErrNotFound)
}

// DeleteComment removes a comment when userID is its author or the owner of
// the post it belongs to.
func (pg *PostgreSQLDatabase) DeleteComment(ctx context.Context, id, userID int64) error {
	const deleteComment = `DELETE FROM comments WHERE id = $1`

	return pg.withTx(ctx, func(tx *sql.Tx) error {
		own, err := commentOwnership(ctx, tx, id)
		if err != nil {
			return err
		}

		if !own.Allows(userID) {
			return ErrForbidden
		}

		_, err = tx.ExecContext(ctx, deleteComment, id)

		return err
	})
}

func commentOwnership(ctx context.Context, tx *sql.Tx, id int64) (CommentOwnership, error) {
	const getOwnership = `
	SELECT c.user_id, p.user_id
	FROM comments c
	JOIN posts p ON p.id = c.post_id
	WHERE c.id = $1
	FOR UPDATE OF c
	`

	var own CommentOwnership
	err := tx.QueryRowContext(ctx, getOwnership, id).Scan(&own.AuthorID, &own.PostOwnerID)

	return own, translateError(err, ErrNotFound)
}

func lockOwnedPost(ctx context.Context, tx *sql.Tx, id, userID int64) error {
	const lockPost = `SELECT user_id FROM posts WHERE id = $1 FOR UPDATE`

	var owner int64
	if err := tx.QueryRowContext(ctx, lockPost, id).Scan(&owner); err != nil {
		return translateError(err, ErrNotFound)
	}

	if owner != userID {
		return ErrForbidden
	}

	return nil
}

func insertImages(ctx context.Context, tx *sql.Tx, postID int64, urls []string) error {
	const createImage = `INSERT INTO post_images (url, post_id) VALUES($1, $2)`

	for _, url := range urls {
		if _, err := tx.ExecContext(ctx, createImage, url, postID); err != nil {
			return err
		}
	}

	return nil
}

// deleteImages removes the listed images that belong to postID. Ids owned by
// another post are ignored.
func deleteImages(ctx context.Context, tx *sql.Tx, postID int64, ids []int64) ([]PostImage, error) {
	const deletePostImages = `
	DELETE FROM post_images
	WHERE post_id = $1 AND id = ANY($2)
	RETURNING id, url
	`

	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := tx.QueryContext(ctx, deletePostImages, postID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var removed []PostImage
	for rows.Next() {
		var img PostImage
		if err := rows.Scan(&img.ID, &img.URL); err != nil {
			return nil, err
		}

		removed = append(removed, img)
	}

	return removed, rows.Err()
}

func (pg *PostgreSQLDatabase) queryPosts(ctx context.Context, query string, args ...any) ([]Post, error) {
	rows, err := pg.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Post{}
	for rows.Next() {
		var p Post
		if err := scanPost(rows, &p); err != nil {
			return nil, err
		}

		items = append(items, p)
	}

	if err := rows.Close(); err != nil {
		return nil, err
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := loadImages(ctx, pg.db, items); err != nil {
		return nil, err
	}

	return items, nil
}

// loadImages fills Images for every post with a single query.
func loadImages(ctx context.Context, q querier, posts []Post) error {
	const getImages = `
	SELECT id, post_id, url
	FROM post_images
	WHERE post_id = ANY($1)
	ORDER BY id
	`

	if len(posts) == 0 {
		return nil
	}

	ids := make([]int64, len(posts))
	index := make(map[int64]int, len(posts))
	for i := range posts {
		ids[i] = posts[i].ID
		index[posts[i].ID] = i
		posts[i].Images = []PostImage{}
	}

	rows, err := q.QueryContext(ctx, getImages, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			img    PostImage
			postID int64
		)
		if err := rows.Scan(&img.ID, &postID, &img.URL); err != nil {
			return err
		}

		i := index[postID]
		posts[i].Images = append(posts[i].Images, img)
	}

	return rows.Err()
}

func loadComments(ctx context.Context, q querier, postID int64) ([]Comment, error) {
	const getComments = `
	SELECT c.id, c.text, c.user_id, COALESCE(u.username, 'Anonymous'), c.post_id, c.created_at
	FROM comments c
	LEFT JOIN users u ON u.id = c.user_id
	WHERE c.post_id = $1
	ORDER BY c.id
	`

	rows, err := q.QueryContext(ctx, getComments, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Comment{}
	for rows.Next() {
		var c Comment
		if err := scanComment(rows, &c); err != nil {
			return nil, err
		}

		items = append(items, c)
	}

	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(s scanner, p *Post) error {
	var imageURL sql.NullString
	err := s.Scan(
		&p.ID,
		&p.Title,
		&p.Content,
		&imageURL,
		&p.UserID,
		&p.Author,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if imageURL.Valid {
		p.ImageURL = &imageURL.String
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()

	return nil
}

func scanComment(s scanner, c *Comment) error {
	if err := s.Scan(&c.ID, &c.Text, &c.UserID, &c.Author, &c.PostID, &c.CreatedAt); err != nil {
		return err
	}

	c.CreatedAt = c.CreatedAt.UTC()

	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes a search term match literally inside an ILIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
