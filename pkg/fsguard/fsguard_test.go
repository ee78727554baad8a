package fsguard

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		rel     string
		want    string // relative to root; empty means error expected
		wantErr bool
	}{
		{name: "plain file", rel: "a.zip", want: "a.zip"},
		{name: "nested path", rel: "mod/123/archive.zip", want: "mod/123/archive.zip"},
		{name: "dot segments collapse inside", rel: "a/./b/../c", want: "a/c"},
		{name: "empty resolves to root", rel: "", want: "."},
		{name: "parent escape", rel: "../evil", wantErr: true},
		{name: "deep escape", rel: "a/../../evil", wantErr: true},
		{name: "absolute outside root", rel: "/etc/passwd", wantErr: true},
		{name: "sneaky double dots", rel: "..", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SafeJoin(root, tt.rel)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsafePath) {
					t.Fatalf("SafeJoin(%q) error = %v, want ErrUnsafePath", tt.rel, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SafeJoin(%q) unexpected error: %v", tt.rel, err)
			}
			want := filepath.Join(root, tt.want)
			if got != want {
				t.Errorf("SafeJoin(%q) = %q, want %q", tt.rel, got, want)
			}
		})
	}
}

func TestSafeJoinAbsoluteInsideRoot(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "sub", "file.bin")

	got, err := SafeJoin(root, inside)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != inside {
		t.Errorf("got %q, want %q", got, inside)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "already clean", in: "archive.zip", want: "archive.zip"},
		{name: "directory stripped", in: "path/to/archive.zip", want: "archive.zip"},
		{name: "backslash directory stripped", in: `C:\evil\archive.zip`, want: "archive.zip"},
		{name: "whitespace collapsed", in: "my  cool\tmod.zip", want: "my_cool_mod.zip"},
		{name: "unicode dropped", in: "мод-pack.zip", want: "-pack.zip"},
		{name: "leading dots stripped", in: "..hidden", want: "hidden"},
		{name: "trailing underscore stripped", in: "name_.", want: "name"},
		{name: "only junk falls back", in: "///***", want: "file"},
		{name: "empty falls back", in: "", want: "file"},
		{name: "traversal neutralized", in: "../../etc/passwd", want: "passwd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeFilename(tt.in, "file")
			if got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilenameIdempotent(t *testing.T) {
	inputs := []string{
		"archive.zip",
		"my  cool mod.7z",
		"..weird..name..",
		strings.Repeat("a", 300) + ".zip",
		"path/to/some file.tar.gz",
	}
	for _, in := range inputs {
		once := SanitizeFilename(in, "file")
		twice := SanitizeFilename(once, "file")
		if once != twice {
			t.Errorf("not idempotent for %q: first %q, second %q", in, once, twice)
		}
		if len(once) > MaxFilenameLen {
			t.Errorf("sanitized %q exceeds %d bytes: %d", in, MaxFilenameLen, len(once))
		}
		for _, ch := range once {
			if !strings.ContainsRune("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_.-", ch) {
				t.Errorf("sanitized %q contains disallowed char %q", once, ch)
			}
		}
	}
}

func TestSanitizeFilenameTruncates(t *testing.T) {
	long := strings.Repeat("x", 200) + ".zip"
	got := SanitizeFilename(long, "file")
	if len(got) != MaxFilenameLen {
		t.Errorf("length = %d, want %d", len(got), MaxFilenameLen)
	}
}

func TestIsSafeJobID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"job_abcdef01", true},
		{"AAAAAAAA", true},
		{"a1b2-c3d4_e5f6", true},
		{strings.Repeat("a", 128), true},
		{strings.Repeat("a", 129), false},
		{"short", false},
		{"", false},
		{"has space99", false},
		{"dots.not.ok", false},
		{"../../traversal", false},
	}
	for _, tt := range tests {
		if got := IsSafeJobID(tt.id); got != tt.want {
			t.Errorf("IsSafeJobID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
