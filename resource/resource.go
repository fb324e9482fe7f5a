// Package resource provides the named, typed byte sources used for inline
// parts and attachments.
package resource

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultContentType is used when nothing better can be determined.
const DefaultContentType = "application/octet-stream"

var ErrEmptyPath = errors.New("resource path is empty")

// ContentResource is a named, typed, readable byte source. Open may be called
// any number of times; every call returns a fresh reader.
type ContentResource interface {
	Name() string
	ContentType() string
	Open() (io.ReadCloser, error)
}

// Writable is implemented by resources that also accept bytes.
type Writable interface {
	Create() (io.WriteCloser, error)
}

// Probe returns the content type for a resource called name. The extension
// wins; otherwise the data is sniffed, and DefaultContentType is the fallback.
func Probe(name string, data []byte) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		return byExt
	}
	if len(data) > 0 {
		return mimetype.Detect(data).String()
	}
	return DefaultContentType
}

// ByteResource holds its content in memory.
type ByteResource struct {
	name        string
	contentType string

	mu   sync.RWMutex
	data []byte
}

// Bytes wraps data. An empty contentType is probed from name and data.
func Bytes(name string, data []byte, contentType string) *ByteResource {
	if contentType == "" {
		contentType = Probe(name, data)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &ByteResource{name: name, contentType: contentType, data: buf}
}

func (b *ByteResource) Name() string        { return b.name }
func (b *ByteResource) ContentType() string { return b.contentType }

func (b *ByteResource) Open() (io.ReadCloser, error) {
	b.mu.RLock()
	data := b.data
	b.mu.RUnlock()
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Len returns the current content size.
func (b *ByteResource) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Create returns a writer whose content replaces the resource bytes on Close.
func (b *ByteResource) Create() (io.WriteCloser, error) {
	return &byteWriter{target: b}, nil
}

type byteWriter struct {
	target *ByteResource
	buf    bytes.Buffer
	closed bool
}

func (w *byteWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, os.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *byteWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.target.mu.Lock()
	w.target.data = w.buf.Bytes()
	w.target.mu.Unlock()
	return nil
}

// FileResource reads from a path on every Open.
type FileResource struct {
	path        string
	name        string
	contentType string
	once        sync.Once
}

// File returns a resource for path. An empty contentType is probed on first use.
func File(path, contentType string) (*FileResource, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrEmptyPath
	}
	return &FileResource{path: filepath.Clean(path), name: filepath.Base(path), contentType: contentType}, nil
}

func (f *FileResource) Name() string { return f.name }
func (f *FileResource) Path() string { return f.path }

func (f *FileResource) ContentType() string {
	f.once.Do(func() {
		if f.contentType != "" {
			return
		}
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(f.name))); byExt != "" {
			f.contentType = byExt
			return
		}
		detected, err := mimetype.DetectFile(f.path)
		if err != nil {
			f.contentType = DefaultContentType
			return
		}
		f.contentType = detected.String()
	})
	return f.contentType
}

func (f *FileResource) Open() (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open resource %s: %w", f.path, err)
	}
	return file, nil
}

func (f *FileResource) Create() (io.WriteCloser, error) {
	file, err := os.Create(f.path)
	if err != nil {
		return nil, fmt.Errorf("create resource %s: %w", f.path, err)
	}
	return file, nil
}
