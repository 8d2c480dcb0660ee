package transfer

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync"

	"github.com/desertthunder/cowatch/internal/models"
	"github.com/desertthunder/cowatch/internal/shared"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// validate checks the form and returns the file field.
func validate(fields []Field) (*Field, error) {
	var file *Field
	hasTitle := false

	for i := range fields {
		f := &fields[i]
		if strings.TrimSpace(f.Name) == "" {
			return nil, fmt.Errorf("%w: field %d has no name", shared.ErrInvalidInput, i)
		}

		if f.File != nil {
			if file != nil {
				return nil, fmt.Errorf("%w: more than one file field", shared.ErrInvalidInput)
			}
			file = f
			continue
		}

		if f.Name == TitleField && strings.TrimSpace(f.Value) != "" {
			hasTitle = true
		}
	}

	if file == nil {
		return nil, fmt.Errorf("%w: no file field", shared.ErrInvalidInput)
	}
	if file.File.Size() == 0 {
		return nil, fmt.Errorf("%w: file %q is empty", shared.ErrInvalidInput, file.File.Name())
	}
	if !hasTitle {
		return nil, fmt.Errorf("%w: missing %q field", shared.ErrInvalidInput, TitleField)
	}
	return file, nil
}

// switchWriter lets one multipart.Writer emit into consecutive buffers.
type switchWriter struct{ w io.Writer }

func (s *switchWriter) Write(p []byte) (int, error) { return s.w.Write(p) }

// multipartBody is a form whose file part is streamed between a prebuilt head and tail.
type multipartBody struct {
	head        []byte
	tail        []byte
	file        models.File
	contentType string
}

// newMultipartBody encodes the text fields first and the file part last, so only the
// file contents are streamed.
func newMultipartBody(fields []Field, file *Field) (*multipartBody, error) {
	var head, tail bytes.Buffer
	sw := &switchWriter{w: &head}
	mw := multipart.NewWriter(sw)

	for _, f := range fields {
		if f.File != nil {
			continue
		}
		if err := mw.WriteField(f.Name, f.Value); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", f.Name, err)
		}
	}

	mediaType := file.File.MediaType()
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(file.Name), quoteEscaper.Replace(filepath.Base(file.File.Name()))))
	h.Set("Content-Type", mediaType)
	if _, err := mw.CreatePart(h); err != nil {
		return nil, fmt.Errorf("failed to write file part header: %w", err)
	}

	sw.w = &tail
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}

	return &multipartBody{
		head:        head.Bytes(),
		tail:        tail.Bytes(),
		file:        file.File,
		contentType: mw.FormDataContentType(),
	}, nil
}

// Len is the encoded length, or -1 when the file size is unknown.
func (b *multipartBody) Len() int64 {
	size := b.file.Size()
	if size < 0 {
		return -1
	}
	return int64(len(b.head)) + size + int64(len(b.tail))
}

// Open returns a reader over the full encoded form.
func (b *multipartBody) Open() (io.ReadCloser, error) {
	rc, err := b.file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", b.file.Name(), err)
	}

	return &readCloser{
		Reader: io.MultiReader(bytes.NewReader(b.head), rc, bytes.NewReader(b.tail)),
		closer: rc,
	}, nil
}

type readCloser struct {
	io.Reader
	closer io.Closer
	once   sync.Once
}

func (r *readCloser) Close() error {
	var err error
	r.once.Do(func() { err = r.closer.Close() })
	return err
}

// progressReader counts bytes handed to the transport.
type progressReader struct {
	io.ReadCloser
	total  int64
	sent   int64
	report func(ratio float64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.ReadCloser.Read(b)
	if n > 0 && p.total > 0 {
		p.sent += int64(n)
		ratio := float64(p.sent) / float64(p.total)
		if ratio > 1 {
			ratio = 1
		}
		p.report(ratio)
	}
	return n, err
}
