package main

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"

	"golang.org/x/exp/slog"
)

func (s *APIServer) HandleListPosts(w http.ResponseWriter, r *http.Request) error {
	posts, err := s.db.ListPosts(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, posts)
}

func (s *APIServer) HandleListUserPosts(w http.ResponseWriter, r *http.Request) error {
	userID, err := pathID(r)
	if err != nil {
		return err
	}

	posts, err := s.db.ListPostsByUser(r.Context(), userID)
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, posts)
}

func (s *APIServer) HandleGetPost(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}

	post, err := s.db.GetPost(r.Context(), id)
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, post)
}

type HandleCreatePostResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

func (s *APIServer) HandleCreatePost(w http.ResponseWriter, r *http.Request) error {
	if err := parseForm(r, s.cfg.MaxContentLength); err != nil {
		return err
	}

	// A missing user_id is left at zero and rejected by the foreign key.
	userID, _, err := s.callerID(r, r.PostFormValue("user_id"))
	if err != nil {
		return err
	}

	p := NewPost{
		Title:   formValue(r, "title"),
		Content: formValue(r, "content"),
		UserID:  userID,
	}

	cover, err := s.storeUpload(r.Context(), firstFile(r, "image"))
	if err != nil {
		return err
	}
	if cover != "" {
		p.ImageURL = &cover
	}

	if p.ImageURLs, err = s.storeGallery(r.Context(), formFiles(r, "images")); err != nil {
		return err
	}

	id, err := s.db.CreatePost(r.Context(), p)
	if err != nil {
		return err
	}

	slog.Info("Created a post", "post_id", id, "user_id", userID, "images", len(p.ImageURLs))

	return writeJSON(w, http.StatusCreated, HandleCreatePostResponse{Message: "OK", ID: id})
}

func (s *APIServer) HandleUpdatePost(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}

	if err := parseForm(r, s.cfg.MaxContentLength); err != nil {
		return err
	}

	userID, err := s.authorizePostOwner(r.Context(), r, id, r.PostFormValue("user_id"))
	if err != nil {
		return err
	}

	u := PostUpdate{
		Title:       formValue(r, "title"),
		Content:     formValue(r, "content"),
		DeleteCover: r.PostFormValue("delete_cover") == "true",
	}

	if raw := r.PostFormValue("delete_image_ids"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &u.DeleteImageIDs); err != nil {
			return newError(KindValidation, "delete_image_ids must be a JSON array of ids", err)
		}
	}

	cover, err := s.storeUpload(r.Context(), firstFile(r, "image"))
	if err != nil {
		return err
	}
	if cover != "" {
		u.CoverURL = &cover
	}

	if u.AddImageURLs, err = s.storeGallery(r.Context(), formFiles(r, "images")); err != nil {
		return err
	}

	removed, err := s.db.UpdatePost(r.Context(), id, userID, u)
	if err != nil {
		return err
	}

	for _, img := range removed {
		if err := s.media.Remove(r.Context(), img.URL); err != nil {
			slog.Error("Failed to remove gallery file", "url", img.URL, "error", err)
		}
	}

	slog.Info("Updated a post",
		"post_id", id,
		"removed_images", len(removed),
		"added_images", len(u.AddImageURLs),
	)

	return writeJSON(w, http.StatusOK, messageResponse{Message: "Update successful"})
}

func (s *APIServer) HandleDeletePost(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}

	userID, err := s.authorizePostOwner(r.Context(), r, id, r.URL.Query().Get("user_id"))
	if err != nil {
		return err
	}

	if err := s.db.DeletePost(r.Context(), id, userID); err != nil {
		return err
	}

	slog.Info("Deleted a post", "post_id", id, "user_id", userID)

	return writeJSON(w, http.StatusOK, messageResponse{Message: "Deleted"})
}

// authorizePostOwner checks ownership before any upload happens. The data
// layer repeats the check under a row lock.
func (s *APIServer) authorizePostOwner(ctx context.Context, r *http.Request, postID int64, supplied string) (int64, error) {
	owner, err := s.db.PostOwner(ctx, postID)
	if err != nil {
		return 0, err
	}

	userID, ok, err := s.callerID(r, supplied)
	if err != nil {
		return 0, err
	}

	if !ok || userID != owner {
		return 0, newError(KindForbidden, "", ErrForbidden)
	}

	return userID, nil
}

// storeGallery stores every gallery file, skipping empty parts.
func (s *APIServer) storeGallery(ctx context.Context, files []*multipart.FileHeader) ([]string, error) {
	var urls []string
	for _, fh := range files {
		url, err := s.storeUpload(ctx, fh)
		if err != nil {
			return nil, err
		}

		if url != "" {
			urls = append(urls, url)
		}
	}

	return urls, nil
}
