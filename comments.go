package main

import (
	"encoding/json"
	"net/http"

	"golang.org/x/exp/slog"
)

type addCommentRequest struct {
	Text   string      `json:"text"`
	UserID json.Number `json:"user_id"`
}

func (s *APIServer) HandleAddComment(w http.ResponseWriter, r *http.Request) error {
	postID, err := pathID(r)
	if err != nil {
		return err
	}

	var req addCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return newError(KindValidation, "Invalid JSON body", err)
	}

	userID, ok, err := s.callerID(r, req.UserID.String())
	if err != nil {
		return err
	}

	if !ok || req.Text == "" {
		return newError(KindValidation, "text and user_id are required", nil)
	}

	c, err := s.db.CreateComment(r.Context(), postID, userID, req.Text)
	if err != nil {
		return err
	}

	slog.Info("Added a comment", "comment_id", c.ID, "post_id", postID, "user_id", userID)

	return writeJSON(w, http.StatusCreated, c)
}

func (s *APIServer) HandleDeleteComment(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}

	// Without an identity userID stays 0. Ids start at 1, so an anonymous
	// caller owns nothing, yet a missing comment still reports 404.
	userID, _, err := s.callerID(r, r.URL.Query().Get("user_id"))
	if err != nil {
		return err
	}

	if err := s.db.DeleteComment(r.Context(), id, userID); err != nil {
		return err
	}

	slog.Info("Deleted a comment", "comment_id", id, "user_id", userID)

	return writeJSON(w, http.StatusOK, messageResponse{Message: "Deleted"})
}
