package main

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/slog"
)

// Database is the data access the handlers rely on.
type Database interface {
	CreateUser(ctx context.Context, username, passwordHash string) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)

	ListPosts(ctx context.Context, search string) ([]Post, error)
	ListPostsByUser(ctx context.Context, userID int64) ([]Post, error)
	GetPost(ctx context.Context, id int64) (PostDetail, error)
	PostOwner(ctx context.Context, id int64) (int64, error)
	CreatePost(ctx context.Context, p NewPost) (int64, error)
	UpdatePost(ctx context.Context, id, userID int64, u PostUpdate) ([]PostImage, error)
	DeletePost(ctx context.Context, id, userID int64) error

	CreateComment(ctx context.Context, postID, userID int64, text string) (Comment, error)
	DeleteComment(ctx context.Context, id, userID int64) error
}

type APIServer struct {
	db       Database
	media    MediaStore
	cfg      Config
	hashCost int
}

func NewAPIServer(db Database, media MediaStore, cfg Config) *APIServer {
	return &APIServer{
		db:       db,
		media:    media,
		cfg:      cfg,
		hashCost: bcrypt.DefaultCost,
	}
}

// bcrypt only hashes the first 72 bytes and rejects longer input.
const maxPasswordBytes = 72

type APIFunc func(w http.ResponseWriter, r *http.Request) error

func makeHandler(f APIFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Work started for a request runs to completion even if the client
		// disconnects.
		r = r.WithContext(context.WithoutCancel(r.Context()))

		err := f(w, r)
		if err == nil {
			return
		}

		apiErr := toAPIError(err)
		if apiErr.Kind == KindInternal {
			slog.Error("Writing an error to response", "error", err, "path", r.URL.Path)
		} else {
			slog.Debug("Writing API error to response", "error", err, "path", r.URL.Path)
		}

		writeJSON(w, apiErr.Kind.Status(), messageResponse{Message: apiErr.message()})
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *APIServer) Handler() http.Handler {
	r := http.NewServeMux()

	r.HandleFunc("POST /api/register", makeHandler(s.HandleRegister))
	r.HandleFunc("POST /api/login", makeHandler(s.HandleLogin))
	r.HandleFunc("POST /api/upload", makeHandler(s.HandleUpload))

	r.HandleFunc("GET /api/posts", makeHandler(s.HandleListPosts))
	r.HandleFunc("POST /api/posts", makeHandler(s.HandleCreatePost))
	r.HandleFunc("GET /api/posts/{id}", makeHandler(s.HandleGetPost))
	r.HandleFunc("PUT /api/posts/{id}", makeHandler(s.HandleUpdatePost))
	r.HandleFunc("DELETE /api/posts/{id}", makeHandler(s.HandleDeletePost))
	r.HandleFunc("GET /api/users/{id}/posts", makeHandler(s.HandleListUserPosts))

	r.HandleFunc("POST /api/posts/{id}/comments", makeHandler(s.HandleAddComment))
	r.HandleFunc("DELETE /api/comments/{id}", makeHandler(s.HandleDeleteComment))

	r.HandleFunc("GET /static/uploads/{filename}", s.HandleServeUpload)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"*"},
	})

	return logRequests(c.Handler(s.limitBody(r)))
}

func (s *APIServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr(),
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("Starting the server", "listen_addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down the server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type HandleLoginResponse struct {
	Message  string `json:"message"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

func (s *APIServer) HandleRegister(w http.ResponseWriter, r *http.Request) error {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return newError(KindValidation, "Invalid JSON body", err)
	}

	if req.Username == "" || req.Password == "" {
		return newError(KindValidation, "Username and password are required", nil)
	}

	if len(req.Password) > maxPasswordBytes {
		return newError(KindValidation, "Password must be at most 72 bytes", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return err
	}

	if _, err := s.db.CreateUser(r.Context(), req.Username, string(hash)); err != nil {
		return err
	}

	slog.Info("Registered a user", "username", req.Username)

	return writeJSON(w, http.StatusCreated, messageResponse{Message: "Registration successful"})
}

func (s *APIServer) HandleLogin(w http.ResponseWriter, r *http.Request) error {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return newError(KindValidation, "Invalid JSON body", err)
	}

	user, err := s.db.GetUserByUsername(r.Context(), req.Username)
	if errors.Is(err, ErrNotFound) {
		return newError(KindUnauthorized, "", err)
	}
	if err != nil {
		return err
	}

	if !verifyPassword(req.Password, user.PasswordHash) {
		return newError(KindUnauthorized, "", ErrUnauthorized)
	}

	resp := HandleLoginResponse{
		Message:  "Login successful",
		UserID:   user.ID,
		Username: user.Username,
	}

	if s.cfg.JWTSecret != "" {
		if resp.Token, err = NewJWTAccessToken(user, []byte(s.cfg.JWTSecret)); err != nil {
			return err
		}
	}

	return writeJSON(w, http.StatusOK, resp)
}

type HandleUploadResponse struct {
	URL string `json:"url"`
}

func (s *APIServer) HandleUpload(w http.ResponseWriter, r *http.Request) error {
	if err := parseForm(r, s.cfg.MaxContentLength); err != nil {
		return err
	}

	fh := firstFile(r, "file")
	if fh == nil {
		return newError(KindValidation, "No file", nil)
	}

	url, err := s.storeUpload(r.Context(), fh)
	if err != nil {
		return err
	}

	if url == "" {
		return newError(KindInternal, "Upload failed", nil)
	}

	return writeJSON(w, http.StatusOK, HandleUploadResponse{URL: url})
}

func (s *APIServer) HandleServeUpload(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(r.PathValue("filename"))
	if name == "." || name == string(filepath.Separator) || strings.HasPrefix(name, ".") {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, filepath.Join(s.cfg.UploadDir, name))
}

// storeUpload returns "" when no file was sent.
func (s *APIServer) storeUpload(ctx context.Context, fh *multipart.FileHeader) (string, error) {
	if fh == nil || fh.Filename == "" {
		return "", nil
	}

	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	slog.Debug("Received an image", "filename", fh.Filename, "size", fh.Size)

	return s.media.Store(ctx, fh.Filename, f)
}

// callerID resolves who is acting. A bearer token wins over the client
// supplied id and must agree with it when both are present. Without a signing
// key no tokens exist, so the Authorization header is ignored. ok is false
// when no identity was supplied at all.
func (s *APIServer) callerID(r *http.Request, supplied string) (id int64, ok bool, err error) {
	supplied = strings.TrimSpace(supplied)

	if auth := r.Header.Get("Authorization"); auth != "" && s.cfg.JWTSecret != "" {
		scheme, token, found := strings.Cut(auth, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			return 0, false, newError(KindUnauthorized, "Invalid token", ErrUnauthorized)
		}

		id, valid := VerifyJWTToken(token, []byte(s.cfg.JWTSecret))
		if !valid {
			return 0, false, newError(KindUnauthorized, "Invalid token", ErrUnauthorized)
		}

		if supplied != "" && supplied != strconv.FormatInt(id, 10) {
			return 0, false, newError(KindForbidden, "", ErrForbidden)
		}

		return id, true, nil
	}

	id, err = strconv.ParseInt(supplied, 10, 64)
	if err != nil {
		return 0, false, nil
	}

	return id, true, nil
}

func (s *APIServer) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.MaxContentLength > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxContentLength)
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		slog.Info("Handled request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, newError(KindNotFound, "", err)
	}

	return id, nil
}

// parseForm accepts multipart and urlencoded bodies alike.
func parseForm(r *http.Request, maxMemory int64) error {
	err := r.ParseMultipartForm(maxMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return newError(KindValidation, "Request body too large", err)
		}
		return newError(KindValidation, "Invalid form body", err)
	}

	return nil
}

// formValue returns nil when key was not submitted.
func formValue(r *http.Request, key string) *string {
	vs, ok := r.PostForm[key]
	if !ok || len(vs) == 0 {
		return nil
	}

	return &vs[0]
}

func formFiles(r *http.Request, key string) []*multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}

	return r.MultipartForm.File[key]
}

func firstFile(r *http.Request, key string) *multipart.FileHeader {
	files := formFiles(r, key)
	if len(files) == 0 {
		return nil
	}

	return files[0]
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(v)
}

func verifyPassword(pwd, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pwd))
	return err == nil
}
