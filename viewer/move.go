package viewer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// moveToDir moves an ingested input out of the inbox, keeping its base name unless that
// name is already taken in dir.
func moveToDir(src, dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("move %s: destination dir is empty", src)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := freeName(dir, filepath.Base(src))

	if err := os.Rename(src, dst); err == nil {
		return dst, nil
	}
	// Rename fails across devices.
	if err := copyFile(src, dst); err != nil {
		return "", err
	}
	if err := os.Remove(src); err != nil {
		return "", err
	}
	return dst, nil
}

// freeName returns dir/base, or dir/<name>-<n><ext> for the first unused n.
func freeName(dir, base string) string {
	dst := filepath.Join(dir, base)
	if _, err := os.Stat(dst); err != nil {
		return dst
	}
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	for n := 1; ; n++ {
		dst = filepath.Join(dir, fmt.Sprintf("%s-%d%s", name, n, ext))
		if _, err := os.Stat(dst); err != nil {
			return dst
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}
