package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/desertthunder/cowatch/internal/models"
	"github.com/desertthunder/cowatch/internal/shared"
)

const (
	DefaultBaseURL = "http://localhost:8080"

	VideosPath = "/api/v1/videos"
	UploadPath = "/api/v1/videos/upload"
	StreamPath = "/api/v1/videos/stream"
	HealthPath = "/health"
)

// VideoService is the HTTP client for one video service instance.
type VideoService struct {
	base       *url.URL
	httpClient *http.Client
}

// NewVideoService creates a client rooted at baseURL.
//
// An empty baseURL defaults to [DefaultBaseURL] and a nil client to [http.DefaultClient].
func NewVideoService(baseURL string, client *http.Client) (*VideoService, error) {
	if baseURL = strings.TrimSpace(baseURL); baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: base url: %v", shared.ErrInvalidConfig, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: base url %q must be absolute", shared.ErrInvalidConfig, baseURL)
	}

	return &VideoService{base: base, httpClient: client}, nil
}

// BaseURL returns the configured base address.
func (s *VideoService) BaseURL() string {
	return s.base.String()
}

// Client returns the HTTP client shared with the transfer engine.
func (s *VideoService) Client() *http.Client {
	return s.httpClient
}

func (s *VideoService) endpoint(p string) string {
	return s.base.JoinPath(p).String()
}

// UploadURL is the multipart upload endpoint.
func (s *VideoService) UploadURL() string {
	return s.endpoint(UploadPath)
}

// StreamURL is the service's playback address for id.
func (s *VideoService) StreamURL(id int64) string {
	return s.endpoint(StreamPath + "/" + strconv.FormatInt(id, 10))
}

// ResolveURL turns a possibly relative playback locator into an absolute URL.
//
// Relative references are appended to the base path, so a base of
// "https://host/prefix" and a ref of "/api/v1/videos/stream/1" give
// "https://host/prefix/api/v1/videos/stream/1".
func (s *VideoService) ResolveURL(ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", fmt.Errorf("%w: empty video url", shared.ErrInvalidArgument)
	}

	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: video url %q: %v", shared.ErrInvalidArgument, ref, err)
	}

	if r.IsAbs() {
		return r.String(), nil
	}

	// protocol-relative
	if r.Host != "" {
		r.Scheme = s.base.Scheme
		return r.String(), nil
	}

	u := *s.base
	u.Path = strings.TrimSuffix(s.base.Path, "/") + "/" + strings.TrimPrefix(r.Path, "/")
	u.RawPath = ""
	u.RawQuery = r.RawQuery
	u.Fragment = r.Fragment
	return u.String(), nil
}

// List fetches the full catalog in server order.
func (s *VideoService) List(ctx context.Context) ([]models.VideoEntry, error) {
	body, err := s.do(ctx, http.MethodGet, s.endpoint(VideosPath))
	if err != nil {
		return nil, err
	}

	var entries []models.VideoEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("%w: failed to decode video list: %v", shared.ErrRejected, err)
	}

	if entries == nil {
		entries = []models.VideoEntry{}
	}
	return entries, nil
}

// Delete removes the video with the given id. Any 2xx status is success.
func (s *VideoService) Delete(ctx context.Context, id int64) error {
	_, err := s.do(ctx, http.MethodDelete, s.endpoint(VideosPath+"/"+strconv.FormatInt(id, 10)))
	return err
}

// Health calls the service health endpoint.
func (s *VideoService) Health(ctx context.Context) (*models.HealthStatus, error) {
	body, err := s.do(ctx, http.MethodGet, s.endpoint(HealthPath))
	if err != nil {
		return nil, err
	}

	var status models.HealthStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("%w: failed to decode health status: %v", shared.ErrRejected, err)
	}
	return &status, nil
}

// do performs a body-less request and returns the response body of a 2xx response.
func (s *VideoService) do(ctx context.Context, method, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, networkError(method, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(method, endpoint, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewStatusError(resp, body)
	}
	return body, nil
}
