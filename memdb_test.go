package main

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// memDB is an in-memory Database with the same ownership and cascade rules
// as the Postgres implementation.
type memDB struct {
	mu       sync.Mutex
	nextID   int64
	clock    time.Time
	users    map[int64]User
	posts    map[int64]Post
	images   map[int64]int64 // image id -> post id
	imageURL map[int64]string
	comments map[int64]Comment
	failWith error
}

func newMemDB() *memDB {
	return &memDB{
		clock:    time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		users:    map[int64]User{},
		posts:    map[int64]Post{},
		images:   map[int64]int64{},
		imageURL: map[int64]string{},
		comments: map[int64]Comment{},
	}
}

func (m *memDB) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memDB) tick() time.Time {
	m.clock = m.clock.Add(time.Minute)
	return m.clock
}

func (m *memDB) CreateUser(_ context.Context, username, passwordHash string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return 0, m.failWith
	}

	for _, u := range m.users {
		if u.Username == username {
			return 0, ErrConflict
		}
	}

	id := m.id()
	m.users[id] = User{ID: id, Username: username, PasswordHash: passwordHash}

	return id, nil
}

func (m *memDB) GetUserByUsername(_ context.Context, username string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}

	return User{}, ErrNotFound
}

func (m *memDB) ListPosts(_ context.Context, search string) ([]Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return nil, m.failWith
	}

	term := strings.ToLower(search)

	return m.sortedPosts(func(p Post) bool {
		return term == "" ||
			strings.Contains(strings.ToLower(p.Title), term) ||
			strings.Contains(strings.ToLower(p.Content), term)
	}), nil
}

func (m *memDB) ListPostsByUser(_ context.Context, userID int64) ([]Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sortedPosts(func(p Post) bool { return p.UserID == userID }), nil
}

func (m *memDB) sortedPosts(keep func(Post) bool) []Post {
	items := []Post{}
	for _, p := range m.posts {
		if keep(p) {
			items = append(items, m.withImages(p))
		}
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})

	return items
}

func (m *memDB) withImages(p Post) Post {
	p.Author = m.users[p.UserID].Username
	p.Images = []PostImage{}
	for id, postID := range m.images {
		if postID == p.ID {
			p.Images = append(p.Images, PostImage{ID: id, URL: m.imageURL[id]})
		}
	}

	sort.Slice(p.Images, func(i, j int) bool { return p.Images[i].ID < p.Images[j].ID })

	return p
}

func (m *memDB) GetPost(_ context.Context, id int64) (PostDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.posts[id]
	if !ok {
		return PostDetail{}, ErrNotFound
	}

	d := PostDetail{Post: m.withImages(p), Comments: []Comment{}}
	for _, c := range m.comments {
		if c.PostID == id {
			c.Author = m.users[c.UserID].Username
			d.Comments = append(d.Comments, c)
		}
	}

	sort.Slice(d.Comments, func(i, j int) bool { return d.Comments[i].ID < d.Comments[j].ID })

	return d, nil
}

func (m *memDB) PostOwner(_ context.Context, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.posts[id]
	if !ok {
		return 0, ErrNotFound
	}

	return p.UserID, nil
}

func (m *memDB) CreatePost(_ context.Context, np NewPost) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if np.Title == nil || np.Content == nil {
		return 0, errors.New(`null value in column "title" violates not-null constraint`)
	}

	if _, ok := m.users[np.UserID]; !ok {
		return 0, errors.New("insert or update on table \"posts\" violates foreign key constraint")
	}

	now := m.tick()
	p := Post{
		ID:        m.id(),
		Title:     *np.Title,
		Content:   *np.Content,
		ImageURL:  np.ImageURL,
		UserID:    np.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.posts[p.ID] = p

	for _, url := range np.ImageURLs {
		id := m.id()
		m.images[id] = p.ID
		m.imageURL[id] = url
	}

	return p.ID, nil
}

func (m *memDB) UpdatePost(_ context.Context, id, userID int64, u PostUpdate) ([]PostImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.posts[id]
	if !ok {
		return nil, ErrNotFound
	}

	if p.UserID != userID {
		return nil, ErrForbidden
	}

	if u.Title != nil {
		p.Title = *u.Title
	}
	if u.Content != nil {
		p.Content = *u.Content
	}
	if u.DeleteCover {
		p.ImageURL = nil
	}
	if u.CoverURL != nil {
		p.ImageURL = u.CoverURL
	}
	p.UpdatedAt = m.tick()
	m.posts[id] = p

	var removed []PostImage
	for _, imgID := range u.DeleteImageIDs {
		if m.images[imgID] == id {
			removed = append(removed, PostImage{ID: imgID, URL: m.imageURL[imgID]})
			delete(m.images, imgID)
			delete(m.imageURL, imgID)
		}
	}

	for _, url := range u.AddImageURLs {
		imgID := m.id()
		m.images[imgID] = id
		m.imageURL[imgID] = url
	}

	return removed, nil
}

func (m *memDB) DeletePost(_ context.Context, id, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.posts[id]
	if !ok {
		return ErrNotFound
	}

	if p.UserID != userID {
		return ErrForbidden
	}

	for imgID, postID := range m.images {
		if postID == id {
			delete(m.images, imgID)
			delete(m.imageURL, imgID)
		}
	}

	for cID, c := range m.comments {
		if c.PostID == id {
			delete(m.comments, cID)
		}
	}

	delete(m.posts, id)

	return nil
}

func (m *memDB) CreateComment(_ context.Context, postID, userID int64, text string) (Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.posts[postID]; !ok {
		return Comment{}, errors.New("insert or update on table \"comments\" violates foreign key constraint")
	}

	c := Comment{
		ID:        m.id(),
		Text:      text,
		UserID:    userID,
		Author:    m.users[userID].Username,
		PostID:    postID,
		CreatedAt: m.tick(),
	}
	m.comments[c.ID] = c

	return c, nil
}

func (m *memDB) DeleteComment(_ context.Context, id, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.comments[id]
	if !ok {
		return ErrNotFound
	}

	own := CommentOwnership{AuthorID: c.UserID, PostOwnerID: m.posts[c.PostID].UserID}
	if !own.Allows(userID) {
		return ErrForbidden
	}

	delete(m.comments, id)

	return nil
}

// Test helpers that bypass the handlers.

func (m *memDB) addUser(username string) int64 {
	id, err := m.CreateUser(context.Background(), username, "not-a-hash")
	if err != nil {
		panic(err)
	}
	return id
}

func (m *memDB) addPost(userID int64, title, content string, cover *string, gallery ...string) int64 {
	id, err := m.CreatePost(context.Background(), NewPost{
		Title:     &title,
		Content:   &content,
		UserID:    userID,
		ImageURL:  cover,
		ImageURLs: gallery,
	})
	if err != nil {
		panic(err)
	}
	return id
}

func (m *memDB) post(id int64) (Post, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.posts[id]
	if !ok {
		return Post{}, false
	}

	return m.withImages(p), true
}

func (m *memDB) countChildren(postID int64) (images, comments int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pid := range m.images {
		if pid == postID {
			images++
		}
	}
	for _, c := range m.comments {
		if c.PostID == postID {
			comments++
		}
	}

	return images, comments
}
