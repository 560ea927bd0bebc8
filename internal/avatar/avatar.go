// Package avatar keeps this user's profile picture on disk and renders an
// initials placeholder when there is none.
package avatar

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// MaxSize caps an uploaded picture.
const MaxSize = 512 << 10

var (
	ErrTooLarge    = errors.New("avatar: image too large")
	ErrUnsupported = errors.New("avatar: unsupported image type")
)

var allowed = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// Store manages the local picture. The hash changes with the content so
// clients can cache by it.
type Store struct {
	mu   sync.RWMutex
	dir  string
	hash string
	mime string
}

// NewStore opens the picture under dir, if any.
func NewStore(dir string) *Store {
	s := &Store{dir: dir}
	if data, err := os.ReadFile(s.path()); err == nil {
		s.hash = hashBytes(data)
		s.mime = http.DetectContentType(data)
	}
	return s
}

func (s *Store) path() string {
	return filepath.Join(s.dir, "avatar")
}

// Hash returns 16 hex chars, or "" when there is no picture.
func (s *Store) Hash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hash
}

// Read returns the picture and its content type, or nil if none exists.
func (s *Store) Read() ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return nil, "", nil
	}
	return data, s.mime, err
}

// Write validates and stores a new picture.
func (s *Store) Write(data []byte) error {
	if len(data) > MaxSize {
		return ErrTooLarge
	}
	mime := http.DetectContentType(data)
	if !allowed[mime] {
		return fmt.Errorf("%w: %s", ErrUnsupported, mime)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(s.path(), data, 0o644); err != nil {
		return err
	}
	s.hash = hashBytes(data)
	s.mime = mime
	return nil
}

// Delete removes the picture.
func (s *Store) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path())
	if os.IsNotExist(err) {
		err = nil
	}
	s.hash, s.mime = "", ""
	return err
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// InitialsSVG renders a deterministic placeholder from the display name,
// coloured by seed.
func InitialsSVG(name, seed string) []byte {
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="256" height="256" viewBox="0 0 256 256">
  <rect width="256" height="256" rx="128" fill="%s"/>
  <text x="128" y="128" dy=".35em" text-anchor="middle"
        font-family="sans-serif" font-size="100" font-weight="600" fill="#fff">%s</text>
</svg>`, colorFor(seed), initials(name))
	return []byte(svg)
}

func initials(name string) string {
	parts := strings.Fields(name)
	switch {
	case len(parts) == 0:
		return "?"
	case len(parts) >= 2:
		return strings.ToUpper(string([]rune(parts[0])[:1]) + string([]rune(parts[1])[:1]))
	}
	r := []rune(parts[0])
	if len(r) >= 2 {
		return strings.ToUpper(string(r[:2]))
	}
	return strings.ToUpper(string(r))
}

var palette = []string{
	"#e74c3c", "#e67e22", "#f1c40f", "#2ecc71", "#1abc9c",
	"#3498db", "#9b59b6", "#e91e63", "#00bcd4", "#ff5722",
	"#607d8b", "#795548", "#8bc34a", "#673ab7",
}

func colorFor(s string) string {
	h := sha256.Sum256([]byte(s))
	return palette[int(h[0])%len(palette)]
}
