package horosafe

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSafePath(t *testing.T) {
	tests := []struct {
		base, input string
		want        string
		wantErr     bool
	}{
		{"/data/docs", "abc/report.pdf", "/data/docs/abc/report.pdf", false},
		{"/data/docs", "../etc/passwd", "", true},
		{"/data/docs", "abc/../def", "", true},
		{"/data/docs", "abc/../../outside", "", true},
		{"/data/docs", `abc\..\..\outside`, "", true},
		{"/data/docs", "/abs/file.docx", "/data/docs/abs/file.docx", false},
		{"/data/docs", "minutes..v2.pdf", "/data/docs/minutes..v2.pdf", false},
		{"/data/docs/", "", "/data/docs", false},
	}
	for _, tt := range tests {
		got, err := SafePath(tt.base, tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("SafePath(%q, %q) error=%v, wantErr=%v", tt.base, tt.input, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrPathTraversal) {
			t.Errorf("SafePath(%q, %q) error=%v, want ErrPathTraversal", tt.base, tt.input, err)
		}
		if got != tt.want {
			t.Errorf("SafePath(%q, %q) = %q, want %q", tt.base, tt.input, got, tt.want)
		}
	}
}

func TestSafePath_SymlinkEscape(t *testing.T) {
	// WHAT: A link inside the root pointing outside it.
	// WHY: Lexical checks alone would let the link through.
	root := t.TempDir()
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.pdf")
	if err := os.WriteFile(secret, []byte("%PDF"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(secret, filepath.Join(root, "link.pdf")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if _, err := SafePath(root, "link.pdf"); !errors.Is(err, ErrPathTraversal) {
		t.Errorf("symlink escape: err = %v", err)
	}

	inside := filepath.Join(root, "real.pdf")
	os.WriteFile(inside, []byte("%PDF"), 0o600)
	if err := os.Symlink(inside, filepath.Join(root, "alias.pdf")); err != nil {
		t.Fatal(err)
	}
	if _, err := SafePath(root, "alias.pdf"); err != nil {
		t.Errorf("link within root: %v", err)
	}
}

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"report.pdf", "report.pdf", false},
		{"../../etc/passwd", "passwd", false},
		{`C:\Users\me\Quarterly Review.docx`, "Quarterly Review.docx", false},
		{"  deck.pptx ", "deck.pptx", false},
		{"", "", true},
		{"dir/", "", true},
		{"..", "", true},
		{"bad\x00name.pdf", "", true},
		{strings.Repeat("a", 300) + ".pdf", "", true},
	}
	for _, tt := range tests {
		got, err := SafeFilename(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("SafeFilename(%q) = %q, %v; want %q, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrBadFilename) {
			t.Errorf("SafeFilename(%q) error = %v", tt.in, err)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 100)

	got, err := LimitedReadAll(bytes.NewReader(data), 200)
	if err != nil || len(got) != 100 {
		t.Fatalf("under limit: len=%d err=%v", len(got), err)
	}
	if _, err := LimitedReadAll(bytes.NewReader(data), 100); err != nil {
		t.Fatalf("exactly at limit: %v", err)
	}
	if _, err := LimitedReadAll(bytes.NewReader(data), 50); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("over limit: err = %v", err)
	}
}

func TestReadFileLimited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("port: 8080\n"), 0o644)

	if data, err := ReadFileLimited(path, MaxConfigFile); err != nil || string(data) != "port: 8080\n" {
		t.Errorf("ReadFileLimited = %q, %v", data, err)
	}
	if _, err := ReadFileLimited(path, 4); !errors.Is(err, ErrTooLarge) {
		t.Errorf("over limit: %v", err)
	}
	if _, err := ReadFileLimited(filepath.Join(t.TempDir(), "none"), 10); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing: %v", err)
	}
}

func TestCopyLimited(t *testing.T) {
	var buf bytes.Buffer
	n, err := CopyLimited(&buf, strings.NewReader("hello"), 5)
	if err != nil || n != 5 || buf.String() != "hello" {
		t.Errorf("at limit: n=%d err=%v buf=%q", n, err, buf.String())
	}
	buf.Reset()
	if _, err := CopyLimited(&buf, strings.NewReader("hello!"), 5); !errors.Is(err, ErrTooLarge) {
		t.Errorf("over limit: err = %v", err)
	}
}
