package main

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestDatabase connects to TEST_DATABASE_URL, skipping when it is unset.
func newTestDatabase(t *testing.T) *PostgreSQLDatabase {
	t.Helper()

	_ = godotenv.Load()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := NewPostgreSQLDatabase(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func newTestUser(t *testing.T, db *PostgreSQLDatabase) int64 {
	t.Helper()

	id, err := db.CreateUser(context.Background(), "user-"+uuid.NewString(), "hash")
	require.NoError(t, err)

	return id
}

func strPtr(s string) *string { return &s }

func (pg *PostgreSQLDatabase) countRows(t *testing.T, table string, postID int64) int {
	t.Helper()

	var n int
	err := pg.db.QueryRow("SELECT count(*) FROM "+table+" WHERE post_id = $1", postID).Scan(&n)
	require.NoError(t, err)

	return n
}

func TestPostgreSQLDatabase_CreateUserConflict(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	name := "amelie-" + uuid.NewString()

	id, err := db.CreateUser(ctx, name, "first-hash")
	require.NoError(t, err)

	_, err = db.CreateUser(ctx, name, "second-hash")
	assert.ErrorIs(t, err, ErrConflict)

	user, err := db.GetUserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "first-hash", user.PasswordHash)

	_, err = db.GetUserByUsername(ctx, "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgreSQLDatabase_CreatePostWithImages(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	owner := newTestUser(t, db)

	id, err := db.CreatePost(ctx, NewPost{
		Title:     strPtr("Paris"),
		Content:   strPtr("Croissants"),
		UserID:    owner,
		ImageURL:  strPtr("/static/uploads/cover.png"),
		ImageURLs: []string{"/static/uploads/one.png", "/static/uploads/two.png"},
	})
	require.NoError(t, err)

	post, err := db.GetPost(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, owner, post.UserID)
	require.NotNil(t, post.ImageURL)
	require.Len(t, post.Images, 2)
	assert.Equal(t, "/static/uploads/one.png", post.Images[0].URL)
	assert.Less(t, post.Images[0].ID, post.Images[1].ID)
	assert.Empty(t, post.Comments)
	assert.Equal(t, time.UTC, post.CreatedAt.Location())
}

func TestPostgreSQLDatabase_CreatePostMissingTitle(t *testing.T) {
	db := newTestDatabase(t)
	owner := newTestUser(t, db)

	_, err := db.CreatePost(context.Background(), NewPost{Content: strPtr("x"), UserID: owner})
	assert.Error(t, err)

	posts, err := db.ListPostsByUser(context.Background(), owner)
	require.NoError(t, err)
	assert.Empty(t, posts, "failed insert is rolled back")
}

func TestPostgreSQLDatabase_DeletePostCascades(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	owner := newTestUser(t, db)
	reader := newTestUser(t, db)

	id, err := db.CreatePost(ctx, NewPost{
		Title:     strPtr("Paris"),
		Content:   strPtr("x"),
		UserID:    owner,
		ImageURLs: []string{"a", "b", "c"},
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := db.CreateComment(ctx, id, reader, "nice")
		require.NoError(t, err)
	}

	assert.ErrorIs(t, db.DeletePost(ctx, id, reader), ErrForbidden)
	assert.Equal(t, 3, db.countRows(t, "post_images", id))

	require.NoError(t, db.DeletePost(ctx, id, owner))
	assert.Zero(t, db.countRows(t, "post_images", id))
	assert.Zero(t, db.countRows(t, "comments", id))

	_, err = db.GetPost(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.DeletePost(ctx, id, owner), ErrNotFound)
}

func TestPostgreSQLDatabase_UpdatePost(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	owner := newTestUser(t, db)
	stranger := newTestUser(t, db)

	id, err := db.CreatePost(ctx, NewPost{
		Title:     strPtr("Paris"),
		Content:   strPtr("Croissants"),
		UserID:    owner,
		ImageURL:  strPtr("/static/uploads/cover.png"),
		ImageURLs: []string{"/static/uploads/one.png", "/static/uploads/two.png"},
	})
	require.NoError(t, err)
	before, err := db.GetPost(ctx, id)
	require.NoError(t, err)

	_, err = db.UpdatePost(ctx, id, stranger, PostUpdate{Title: strPtr("Hijacked")})
	assert.ErrorIs(t, err, ErrForbidden)

	unchanged, err := db.GetPost(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, unchanged)

	removed, err := db.UpdatePost(ctx, id, owner, PostUpdate{
		Title:          strPtr("Paris in spring"),
		DeleteCover:    true,
		DeleteImageIDs: []int64{before.Images[0].ID, -1},
		AddImageURLs:   []string{"/static/uploads/three.png"},
	})
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "/static/uploads/one.png", removed[0].URL)

	after, err := db.GetPost(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Paris in spring", after.Title)
	assert.Equal(t, "Croissants", after.Content)
	assert.Nil(t, after.ImageURL)
	assert.False(t, after.UpdatedAt.Before(before.UpdatedAt))
	require.Len(t, after.Images, 2)
	assert.Equal(t, "/static/uploads/two.png", after.Images[0].URL)
	assert.Equal(t, "/static/uploads/three.png", after.Images[1].URL)

	_, err = db.UpdatePost(ctx, id, owner, PostUpdate{DeleteCover: true, CoverURL: strPtr("/static/uploads/new.png")})
	require.NoError(t, err)
	after, err = db.GetPost(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, after.ImageURL)
	assert.Equal(t, "/static/uploads/new.png", *after.ImageURL)
}

func TestPostgreSQLDatabase_DeleteComment(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	owner := newTestUser(t, db)
	author := newTestUser(t, db)
	stranger := newTestUser(t, db)

	postID, err := db.CreatePost(ctx, NewPost{Title: strPtr("Paris"), Content: strPtr("x"), UserID: owner})
	require.NoError(t, err)

	c, err := db.CreateComment(ctx, postID, author, "Lovely")
	require.NoError(t, err)
	assert.Equal(t, postID, c.PostID)
	assert.NotEmpty(t, c.Author)

	assert.ErrorIs(t, db.DeleteComment(ctx, c.ID, stranger), ErrForbidden)
	assert.NoError(t, db.DeleteComment(ctx, c.ID, owner))
	assert.ErrorIs(t, db.DeleteComment(ctx, c.ID, owner), ErrNotFound)
}

func TestPostgreSQLDatabase_ListPostsSearch(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	owner := newTestUser(t, db)
	marker := strings.ReplaceAll(uuid.NewString(), "-", "")

	create := func(title, content string) int64 {
		id, err := db.CreatePost(ctx, NewPost{Title: &title, Content: &content, UserID: owner, ImageURLs: []string{"img"}})
		require.NoError(t, err)
		return id
	}

	first := create("Paris "+marker, "Croissants")
	create("Rome", "Gelato")
	third := create("Lyon", "Trip from "+strings.ToUpper(marker))

	found, err := db.ListPosts(ctx, marker)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, third, found[0].ID)
	assert.Equal(t, first, found[1].ID)
	assert.Len(t, found[0].Images, 1)

	literal, err := db.ListPosts(ctx, marker+"%")
	require.NoError(t, err)
	assert.Empty(t, literal, "wildcards in the term match literally")

	all, err := db.ListPostsByUser(ctx, owner)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt))
	}
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%`, escapeLike("100%"))
	assert.Equal(t, `a\_b`, escapeLike("a_b"))
	assert.Equal(t, `c:\\d`, escapeLike(`c:\d`))
}
