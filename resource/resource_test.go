package resource

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func readAll(t *testing.T, res ContentResource) string {
	t.Helper()
	r, err := res.Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return string(data)
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name string
		file string
		data []byte
		want string
	}{
		{name: "by extension", file: "report.pdf", want: "application/pdf"},
		{name: "sniffed png", file: "image", data: []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), want: "image/png"},
		{name: "fallback", file: "blob", want: DefaultContentType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Probe(tt.file, tt.data); got != tt.want {
				t.Errorf("Probe(%q) = %q, want %q", tt.file, got, tt.want)
			}
		})
	}
}

func TestByteResourceReopens(t *testing.T) {
	res := Bytes("note.txt", []byte("hello"), "")
	if !strings.HasPrefix(res.ContentType(), "text/plain") {
		t.Errorf("ContentType() = %q", res.ContentType())
	}
	if got := readAll(t, res); got != "hello" {
		t.Errorf("first read = %q", got)
	}
	if got := readAll(t, res); got != "hello" {
		t.Errorf("second read = %q", got)
	}
}

func TestByteResourceCreate(t *testing.T) {
	res := Bytes("data.bin", []byte("old"), DefaultContentType)
	w, err := res.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := io.WriteString(w, "new content"); err != nil {
		t.Fatalf("write error = %v", err)
	}
	if got := readAll(t, res); got != "old" {
		t.Errorf("content changed before Close: %q", got)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := readAll(t, res); got != "new content" {
		t.Errorf("content after Close = %q", got)
	}
}

func TestFileResource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	if err := os.WriteFile(path, []byte("<p>hi</p>"), 0o600); err != nil {
		t.Fatal(err)
	}

	res, err := File(path, "")
	if err != nil {
		t.Fatalf("File() error = %v", err)
	}
	if res.Name() != "page.html" {
		t.Errorf("Name() = %q", res.Name())
	}
	if !strings.HasPrefix(res.ContentType(), "text/html") {
		t.Errorf("ContentType() = %q", res.ContentType())
	}
	if got := readAll(t, res); got != "<p>hi</p>" {
		t.Errorf("content = %q", got)
	}

	if _, err := File("  ", ""); err != ErrEmptyPath {
		t.Errorf("File(blank) error = %v, want ErrEmptyPath", err)
	}
}

func TestCachedLoaderLoadsOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logo.txt")
	if err := os.WriteFile(path, []byte("v1"), 0o600); err != nil {
		t.Fatal(err)
	}

	loader := NewCachedLoader()
	var wg sync.WaitGroup
	results := make([]*ByteResource, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := loader.Get(path)
			if err != nil {
				t.Errorf("Get() error = %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if res != results[0] {
			t.Fatalf("result %d is a different resource", i)
		}
	}

	if err := os.WriteFile(path, []byte("v2"), 0o600); err != nil {
		t.Fatal(err)
	}
	res, err := loader.Get(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, res); got != "v1" {
		t.Errorf("cached content = %q, want v1", got)
	}
	if loader.Len() != 1 {
		t.Errorf("Len() = %d, want 1", loader.Len())
	}
}

func TestCachedLoaderMissingFile(t *testing.T) {
	loader := NewCachedLoader()
	if _, err := loader.Get(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if loader.Len() != 0 {
		t.Errorf("failed load was cached")
	}
}
