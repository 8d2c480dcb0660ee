package upload

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/desertthunder/cowatch/internal/shared"
)

// videoTypes covers common containers so detection does not depend on the host's mime tables.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".ogv":  "video/ogg",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".3gp":  "video/3gpp",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
}

// LocalFile is a file on an [afero.Fs] offered for upload.
type LocalFile struct {
	fs        afero.Fs
	path      string
	size      int64
	mediaType string
}

// OpenFile stats path and detects its media type. It does not keep the file open.
func OpenFile(fs afero.Fs, path string) (*LocalFile, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", shared.ErrInvalidInput, path)
	}

	return &LocalFile{
		fs:        fs,
		path:      path,
		size:      info.Size(),
		mediaType: DetectMediaType(fs, path),
	}, nil
}

func (f *LocalFile) Name() string      { return filepath.Base(f.path) }
func (f *LocalFile) Path() string      { return f.path }
func (f *LocalFile) Size() int64       { return f.size }
func (f *LocalFile) MediaType() string { return f.mediaType }

func (f *LocalFile) Open() (io.ReadCloser, error) {
	return f.fs.Open(f.path)
}

// DetectMediaType resolves a media type from the extension, then from the content.
func DetectMediaType(fs afero.Fs, path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mt, ok := videoTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return mt
	}

	f, err := fs.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, _ := io.ReadFull(f, buf)
	if n == 0 {
		return ""
	}
	return http.DetectContentType(buf[:n])
}

// IsVideo reports whether mediaType names a video/* type.
func IsVideo(mediaType string) bool {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "video/")
}

// DefaultTitle is the file's base name without its last extension.
//
// A trailing dot with nothing after it is kept.
func DefaultTitle(name string) string {
	if name == "" {
		return ""
	}

	base := filepath.Base(name)
	if ext := filepath.Ext(base); len(ext) > 1 {
		return strings.TrimSuffix(base, ext)
	}
	return base
}
