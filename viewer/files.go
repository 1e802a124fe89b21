package viewer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// StoredFile describes an upload written to disk.
type StoredFile struct {
	Path   string
	Size   int64
	SHA256 string
}

// FileStore keeps uploaded logs under one directory as <file_id>_<name>.
type FileStore struct {
	dir      string
	maxBytes int64
}

func NewFileStore(dir string, maxBytes int64) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("storage dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, maxBytes: maxBytes}, nil
}

func (fs *FileStore) Dir() string { return fs.dir }

// Save copies r to disk, hashing it on the way. Content longer than the size limit is
// discarded and ErrTooLarge returned.
func (fs *FileStore) Save(fileID, name string, r io.Reader) (*StoredFile, error) {
	path := filepath.Join(fs.dir, fileID+"_"+sanitizeName(name))
	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	h := sha256.New()
	src := r
	if fs.maxBytes > 0 {
		src = io.LimitReader(r, fs.maxBytes+1)
	}
	n, copyErr := io.Copy(io.MultiWriter(out, h), src)
	closeErr := out.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(path)
		return nil, copyErr
	case closeErr != nil:
		_ = os.Remove(path)
		return nil, closeErr
	case fs.maxBytes > 0 && n > fs.maxBytes:
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, fs.maxBytes)
	}
	return &StoredFile{Path: path, Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

// Find locates the upload of fileID, returning ErrNotFound when it is gone. Only ids in
// canonical uuid form are looked up, so one id can never match another upload's name.
func (fs *FileStore) Find(fileID string) (string, error) {
	if id, err := uuid.Parse(fileID); err != nil || id.String() != fileID {
		return "", ErrNotFound
	}
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	prefix := fileID + "_"
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			return filepath.Join(fs.dir, e.Name()), nil
		}
	}
	return "", ErrNotFound
}

// Remove deletes a stored upload; a missing file is not an error.
func (fs *FileStore) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// originalName recovers the uploaded name from a stored path.
func originalName(path string) string {
	base := filepath.Base(path)
	if _, name, ok := strings.Cut(base, "_"); ok && name != "" {
		return name
	}
	return base
}

// sanitizeName keeps the base name of an upload, replacing anything outside [A-Za-z0-9._-].
func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "upload.log"
	}
	return out
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
