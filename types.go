package main

import "time"

type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

type PostImage struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

type Comment struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	UserID    int64     `json:"user_id"`
	Author    string    `json:"author"`
	PostID    int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type Post struct {
	ID        int64       `json:"id"`
	Title     string      `json:"title"`
	Content   string      `json:"content"`
	ImageURL  *string     `json:"image_url"`
	Author    string      `json:"author"`
	UserID    int64       `json:"user_id"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Images    []PostImage `json:"images"`
}

// PostDetail is a post together with its comments, oldest first.
type PostDetail struct {
	Post
	Comments []Comment `json:"comments"`
}

// NewPost is the input of a post insert. Title and Content are nil when the
// client omitted them, which the NOT NULL constraints reject.
type NewPost struct {
	Title     *string
	Content   *string
	UserID    int64
	ImageURL  *string
	ImageURLs []string
}

// PostUpdate describes one update request. Nil fields keep their value.
type PostUpdate struct {
	Title          *string
	Content        *string
	DeleteCover    bool
	CoverURL       *string
	DeleteImageIDs []int64
	AddImageURLs   []string
}

// CommentOwnership carries the two identities allowed to delete a comment.
type CommentOwnership struct {
	AuthorID    int64
	PostOwnerID int64
}

func (c CommentOwnership) Allows(userID int64) bool {
	return userID == c.AuthorID || userID == c.PostOwnerID
}
