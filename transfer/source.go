package transfer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Source is an immutable reference to the content of a file selected for
// upload. The content can be opened any number of times, once per attempt.
type Source struct {
	Name      string
	Size      int64
	MediaType string

	open func() (io.ReadCloser, error)
}

// NewFileSource creates a Source backed by a file on disk. The media type is
// sniffed from the file content.
func NewFileSource(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Source{}, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return Source{}, fmt.Errorf("%s is a directory", path)
	}

	mediaType := ""
	if info.Size() > 0 {
		mt, err := mimetype.DetectFile(path)
		if err != nil {
			return Source{}, fmt.Errorf("detect media type: %w", err)
		}
		mediaType = baseMediaType(mt.String())
	}

	return Source{
		Name:      filepath.Base(path),
		Size:      info.Size(),
		MediaType: mediaType,
		open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// NewBytesSource creates a Source over in-memory content. If mediaType is
// empty it is sniffed from data.
func NewBytesSource(name string, data []byte, mediaType string) Source {
	if mediaType == "" && len(data) > 0 {
		mediaType = mimetype.Detect(data).String()
	}

	return Source{
		Name:      name,
		Size:      int64(len(data)),
		MediaType: baseMediaType(mediaType),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// NewReaderSource creates a Source with a declared size and media type whose
// content is produced by open. It is mostly useful for tests and for callers
// with their own storage.
func NewReaderSource(name string, size int64, mediaType string, open func() (io.ReadCloser, error)) Source {
	return Source{
		Name:      name,
		Size:      size,
		MediaType: baseMediaType(mediaType),
		open:      open,
	}
}

// Open returns a fresh reader over the source content.
func (s Source) Open() (io.ReadCloser, error) {
	if s.open == nil {
		return nil, fmt.Errorf("source %s has no content", s.Name)
	}
	return s.open()
}

// Extension returns the lower-cased file name extension including the dot.
func (s Source) Extension() string {
	return strings.ToLower(filepath.Ext(s.Name))
}

func baseMediaType(mediaType string) string {
	base, _, _ := strings.Cut(mediaType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
