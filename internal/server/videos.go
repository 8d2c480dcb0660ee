package server

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/desertthunder/cowatch/internal/models"
	"github.com/desertthunder/cowatch/internal/shared"
)

const (
	VideosRoute = "/api/v1/videos"
	UploadRoute = "/api/v1/videos/upload"
	StreamRoute = "/api/v1/videos/stream"
	HealthRoute = "/health"
	MediaRoute  = "/media"

	// DefaultMaxUploadSize bounds a single upload body.
	DefaultMaxUploadSize int64 = 500 << 20

	formMemory = 32 << 20
	mediaDir   = "videos"
)

// VideoServerOpts configures a [VideoServer].
type VideoServerOpts struct {
	Fs            afero.Fs // media storage, in memory when nil
	MaxUploadSize int64
	Logger        *log.Logger
	Now           func() time.Time
}

type storedVideo struct {
	entry models.VideoEntry
	key   string
}

// VideoServer is an in-memory implementation of the video REST API.
type VideoServer struct {
	fs        afero.Fs
	maxUpload int64
	logger    *log.Logger
	now       func() time.Time

	mu     sync.RWMutex
	videos map[int64]storedVideo
	nextID int64
}

// NewVideoServer creates an empty VideoServer.
func NewVideoServer(opts VideoServerOpts) *VideoServer {
	if opts.Fs == nil {
		opts.Fs = afero.NewMemMapFs()
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = DefaultMaxUploadSize
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &VideoServer{
		fs:        opts.Fs,
		maxUpload: opts.MaxUploadSize,
		logger:    shared.WithLogger(opts.Logger, "component", "video-server"),
		now:       opts.Now,
		videos:    map[int64]storedVideo{},
	}
}

// Register adds the video routes to r.
func (s *VideoServer) Register(r Router) {
	r.Handle(http.MethodGet, VideosRoute, http.HandlerFunc(s.list))
	r.Handle(http.MethodPost, UploadRoute, http.HandlerFunc(s.upload))
	r.Handle(http.MethodDelete, VideosRoute+"/{id}", http.HandlerFunc(s.delete))
	r.Handle(http.MethodGet, StreamRoute+"/{id}", http.HandlerFunc(s.stream))
	r.Handle(http.MethodGet, MediaRoute+"/{key}", http.HandlerFunc(s.media))
	r.Handle(http.MethodGet, HealthRoute, http.HandlerFunc(s.health))
}

// NewHandler returns a router serving s with request logging and panic recovery.
func NewHandler(s *VideoServer, logger *log.Logger) *BasicRouter {
	router := NewBasicRouter()
	router.Use(Recoverer(logger), RequestLogger(logger))
	s.Register(router)
	return router
}

// Seed stores a video directly, bypassing HTTP. Used for demos and tests.
func (s *VideoServer) Seed(title, filename, contentType string, data []byte) (models.VideoEntry, error) {
	key := shared.GenerateID() + strings.ToLower(filepath.Ext(filename))
	if err := afero.WriteFile(s.fs, path.Join(mediaDir, key), data, 0644); err != nil {
		return models.VideoEntry{}, fmt.Errorf("failed to store media: %w", err)
	}
	return s.add(title, contentType, key, int64(len(data))), nil
}

// Entries returns the stored entries, newest first.
func (s *VideoServer) Entries() []models.VideoEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := lo.MapToSlice(s.videos, func(_ int64, v storedVideo) models.VideoEntry { return v.entry })
	slices.SortFunc(entries, func(a, b models.VideoEntry) int { return cmp.Compare(b.ID, a.ID) })
	return entries
}

func (s *VideoServer) add(title, contentType, key string, size int64) models.VideoEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	entry := models.VideoEntry{
		ID:          s.nextID,
		Title:       title,
		URL:         StreamRoute + "/" + strconv.FormatInt(s.nextID, 10),
		Size:        size,
		ContentType: contentType,
		UploadedAt:  s.now().UTC().Format(time.RFC3339Nano),
	}
	s.videos[entry.ID] = storedVideo{entry: entry, key: key}
	return entry
}

// lookup resolves the {id} path value, writing the error response when it cannot.
func (s *VideoServer) lookup(w http.ResponseWriter, r *http.Request) (storedVideo, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid video ID", http.StatusBadRequest)
		return storedVideo{}, false
	}

	s.mu.RLock()
	v, ok := s.videos[id]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "Video not found", http.StatusNotFound)
	}
	return v, ok
}

func (s *VideoServer) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Entries())
}

func (s *VideoServer) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		http.Error(w, "File too large or invalid form data", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("video")
	if err != nil {
		http.Error(w, "Failed to read video file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err != nil || !strings.HasPrefix(mt, "video/") {
		http.Error(w, "File must be a video", http.StatusBadRequest)
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}

	key := shared.GenerateID() + strings.ToLower(filepath.Ext(header.Filename))
	size, err := s.store(key, file)
	if err != nil {
		s.logger.Error("failed to store upload", "file", header.Filename, "error", err)
		http.Error(w, "Failed to store video", http.StatusInternalServerError)
		return
	}

	entry := s.add(title, contentType, key, size)
	s.logger.Info("video uploaded", "id", entry.ID, "title", entry.Title, "size", size)
	writeJSON(w, http.StatusCreated, entry)
}

func (s *VideoServer) store(key string, src io.Reader) (int64, error) {
	if err := s.fs.MkdirAll(mediaDir, 0755); err != nil {
		return 0, err
	}

	dst, err := s.fs.Create(path.Join(mediaDir, key))
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	return io.Copy(dst, src)
}

func (s *VideoServer) delete(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookup(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	delete(s.videos, v.entry.ID)
	s.mu.Unlock()

	if err := s.fs.Remove(path.Join(mediaDir, v.key)); err != nil {
		s.logger.Warn("failed to remove media", "id", v.entry.ID, "key", v.key, "error", err)
	}

	s.logger.Info("video deleted", "id", v.entry.ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Video deleted successfully"})
}

func (s *VideoServer) stream(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookup(w, r)
	if !ok {
		return
	}
	http.Redirect(w, r, MediaRoute+"/"+v.key, http.StatusTemporaryRedirect)
}

func (s *VideoServer) media(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" || strings.ContainsAny(key, `/\`) {
		http.NotFound(w, r)
		return
	}

	f, err := s.fs.Open(path.Join(mediaDir, key))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "Failed to read video", http.StatusInternalServerError)
		return
	}

	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeContent(w, r, key, info.ModTime(), f)
}

func (s *VideoServer) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthStatus{Status: "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
