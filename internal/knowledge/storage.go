package knowledge

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// maxKeyLength matches the file_path column
const maxKeyLength = 255

// Storage keeps uploaded resource files on the local filesystem under a
// root directory. Keys are relative slash paths.
type Storage struct {
	root string
}

// NewStorage creates the root directory if needed
func NewStorage(root string) (*Storage, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage dir %s: %w", root, err)
	}
	return &Storage{root: root}, nil
}

// Save writes r under foia_coach/jurisdiction_resources/<yyyy>/<mm>/ and
// returns the key. A short random suffix avoids collisions, and long stems
// are cut so the key fits maxKeyLength.
func (s *Storage) Save(fileName string, r io.Reader) (string, error) {
	now := time.Now()
	dir := strings.Join([]string{"foia_coach", "jurisdiction_resources", now.Format("2006"), now.Format("01")}, "/")
	suffix := "_" + uuid.NewString()[:8]

	base := filepath.Base(fileName)
	ext := strings.ToLower(filepath.Ext(base))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	budget := maxKeyLength - len(dir) - 1 - len(suffix)
	if len(ext) > budget {
		ext = ""
	}
	stem = truncateBytes(stem, budget-len(ext))

	key := dir + "/" + stem + suffix + ext
	path := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return key, nil
}

// truncateBytes cuts s to at most n bytes without splitting a rune
func truncateBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Path resolves a key to a filesystem path
func (s *Storage) Path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(filepath.Clean("/" + key)))
}

// Open opens a stored file for reading
func (s *Storage) Open(key string) (io.ReadCloser, error) {
	return os.Open(s.Path(key))
}

// Delete removes a stored file. Missing files are not an error.
func (s *Storage) Delete(key string) error {
	err := os.Remove(s.Path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
