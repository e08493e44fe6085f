// Package horosafe provides the guards the HTTP surface needs before it hands
// user input to the extractors: path traversal checks for server-side paths,
// upload filename sanitizing, and bounded I/O.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// MaxConfigFile is the cap for reading configuration files (1 MiB).
const MaxConfigFile int64 = 1 << 20

// ErrPathTraversal is returned when a user-supplied path escapes its base.
var ErrPathTraversal = errors.New("horosafe: path traversal detected")

// ErrTooLarge is returned when a bounded read or copy exceeds its limit.
var ErrTooLarge = errors.New("horosafe: data exceeds limit")

// ErrBadFilename is returned for upload names that cannot be stored safely.
var ErrBadFilename = errors.New("horosafe: invalid filename")

// SafePath joins userInput under base and returns the cleaned path. A ".."
// element, or a symlink that resolves outside base, is ErrPathTraversal.
// Names that merely contain dots ("v1..2.pdf") are fine.
func SafePath(base, userInput string) (string, error) {
	for _, elem := range strings.FieldsFunc(userInput, isSep) {
		if elem == ".." {
			return "", ErrPathTraversal
		}
	}
	base = filepath.Clean(base)
	cleaned := filepath.Join(base, filepath.Clean("/"+userInput))
	if !within(base, cleaned) {
		return "", ErrPathTraversal
	}

	// Symlinks are only checked when the target exists; a missing file is
	// reported by the caller as not found.
	real, err := filepath.EvalSymlinks(cleaned)
	if err != nil {
		return cleaned, nil
	}
	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		realBase = base
	}
	if !within(realBase, real) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

func within(base, p string) bool {
	return p == base || strings.HasPrefix(p, base+string(filepath.Separator))
}

func isSep(r rune) bool { return r == '/' || r == '\\' }

// SafeFilename reduces a client-supplied upload name to a plain base name
// fit for a temp directory. The extension is kept because format detection
// depends on it.
func SafeFilename(name string) (string, error) {
	if i := strings.LastIndexFunc(name, isSep); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || len(name) > 255 {
		return "", fmt.Errorf("%w: %q", ErrBadFilename, name)
	}
	for _, r := range name {
		if unicode.IsControl(r) || r == ':' {
			return "", fmt.Errorf("%w: %q", ErrBadFilename, name)
		}
	}
	return name, nil
}

// LimitedReadAll reads at most maxBytes from r, failing with ErrTooLarge
// past the limit.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// ReadFileLimited reads a whole file of at most maxBytes.
func ReadFileLimited(path string, maxBytes int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := LimitedReadAll(f, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

// CopyLimited copies src to dst and fails with ErrTooLarge once more than
// maxBytes would be written. The bytes already written are not undone.
func CopyLimited(dst io.Writer, src io.Reader, maxBytes int64) (int64, error) {
	n, err := io.Copy(dst, io.LimitReader(src, maxBytes+1))
	if err != nil {
		return n, err
	}
	if n > maxBytes {
		return n, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}
	return n, nil
}
