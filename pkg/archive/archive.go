package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/open-workshop/storage/pkg/fsguard"
	"github.com/open-workshop/storage/pkg/log"
)

var (
	// ErrEncrypted is returned when an archive requires a password.
	ErrEncrypted = errors.New("archive is encrypted")
	// ErrUnsafeEntry is returned when an entry would land outside the
	// extraction directory.
	ErrUnsafeEntry = errors.New("archive entry escapes extraction directory")
)

// DefaultBinary is the archiver executable looked up on PATH.
const DefaultBinary = "7z"

// Compression methods accepted in a canonical ZIP.
var canonicalMethods = map[string]bool{
	"Deflate": true,
	"LZMA":    true,
	"BZip2":   true,
	"PPMd":    true,
}

// Entry describes one archive member from the archiver listing.
type Entry struct {
	Path      string
	Dir       bool
	Size      int64
	Method    string
	Encrypted bool
}

// Probe is the result of listing an archive.
type Probe struct {
	Type      string
	Encrypted bool
	Entries   []Entry
}

// Tool wraps the external archiver binary. All format detection, encryption
// detection and extraction go through it so the behaviors stay consistent
// across formats.
type Tool struct {
	bin    string
	logger zerolog.Logger
}

// NewTool creates a Tool around the given binary name; empty selects the
// default.
func NewTool(bin string) *Tool {
	if bin == "" {
		bin = DefaultBinary
	}
	return &Tool{
		bin:    bin,
		logger: log.WithComponent("archive"),
	}
}

// Available verifies the archiver binary can be found on PATH.
func (t *Tool) Available() error {
	if _, err := exec.LookPath(t.bin); err != nil {
		return fmt.Errorf("archiver binary %q not found: %w", t.bin, err)
	}
	return nil
}

// run executes the archiver and returns combined stdout plus stderr text.
func (t *Tool) run(ctx context.Context, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, t.bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	t.logger.Debug().Strs("args", args).Msg("running archiver")
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Probe lists path with full technical metadata. It returns nil when the
// file is not an archive at all, and a Probe with Encrypted set when the
// listing itself is refused pending a password.
func (t *Tool) Probe(ctx context.Context, path string) (*Probe, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat source: %w", err)
	}

	// The junk password suppresses interactive prompts; archives with
	// encrypted headers then fail the listing with a password error.
	stdout, stderr, err := t.run(ctx, "l", "-slt", "-pnone", "--", path)
	if err != nil {
		combined := strings.ToLower(stdout + stderr)
		if strings.Contains(combined, "password") || strings.Contains(combined, "encrypt") {
			return &Probe{Encrypted: true}, nil
		}
		t.logger.Debug().Str("path", path).Msg("source is not an archive")
		return nil, nil
	}

	p := parseListing(stdout)
	if p.Type == "" {
		return nil, nil
	}
	return p, nil
}

// parseListing parses the archiver's technical (-slt) listing: one header
// block after "--" describing the archive, then entry blocks after
// "----------" separated by blank lines, all as "Key = Value" pairs.
func parseListing(out string) *Probe {
	p := &Probe{}
	inEntries := false
	var cur *Entry

	flush := func() {
		if cur != nil && cur.Path != "" {
			p.Entries = append(p.Entries, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "----------") {
			inEntries = true
			continue
		}
		key, val, ok := strings.Cut(line, " = ")
		if !ok {
			if inEntries && strings.TrimSpace(line) == "" {
				flush()
			}
			continue
		}

		if !inEntries {
			if key == "Type" && p.Type == "" {
				p.Type = val
			}
			continue
		}

		switch key {
		case "Path":
			flush()
			cur = &Entry{Path: val}
		case "Folder":
			if cur != nil && val == "+" {
				cur.Dir = true
			}
		case "Attributes":
			if cur != nil && strings.HasPrefix(val, "D") {
				cur.Dir = true
			}
		case "Size":
			if cur != nil {
				cur.Size, _ = strconv.ParseInt(val, 10, 64)
			}
		case "Method":
			if cur != nil {
				cur.Method = val
			}
		case "Encrypted":
			if cur != nil && val == "+" {
				cur.Encrypted = true
			}
		}
	}
	flush()

	for _, e := range p.Entries {
		if e.Encrypted {
			p.Encrypted = true
			break
		}
	}
	return p
}

// IsCanonicalZip reports whether the probed archive already satisfies the
// canonical form: a ZIP whose every non-directory entry is unencrypted and
// compressed with Deflate, LZMA, BZip2 or PPMd. Zero-byte Stored entries are
// permitted.
func IsCanonicalZip(p *Probe) bool {
	if p == nil || !strings.EqualFold(p.Type, "zip") || p.Encrypted {
		return false
	}
	for _, e := range p.Entries {
		if e.Dir {
			continue
		}
		if e.Encrypted {
			return false
		}
		if canonicalMethods[e.Method] {
			continue
		}
		if e.Size == 0 && (e.Method == "" || e.Method == "Store") {
			continue
		}
		return false
	}
	return true
}

// Extract unpacks src into dest. Entry destinations are validated against
// dest before the archiver runs and the resulting tree is re-verified after,
// so a hostile entry name or symlink can never place data outside dest.
// Single-member gzip/bzip2/xz wrappers around a tar are unpacked recursively.
func (t *Tool) Extract(ctx context.Context, src, dest string, p *Probe) error {
	if p == nil {
		return fmt.Errorf("source is not an archive")
	}
	if p.Encrypted {
		return ErrEncrypted
	}
	if err := validateEntries(dest, p.Entries); err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create extraction dir: %w", err)
	}

	stdout, stderr, err := t.run(ctx, "x", "-y", "-pnone", "-o"+dest, "--", src)
	if err != nil {
		combined := strings.ToLower(stdout + stderr)
		if strings.Contains(combined, "password") || strings.Contains(combined, "encrypt") {
			return ErrEncrypted
		}
		return fmt.Errorf("extraction failed: %v: %s", err, firstLine(stderr))
	}

	if err := verifyTree(dest); err != nil {
		return err
	}

	if isTarWrapper(p.Type) {
		if inner := singleTarMember(dest); inner != "" {
			innerProbe, err := t.Probe(ctx, inner)
			if err != nil {
				return err
			}
			if innerProbe != nil {
				if err := t.Extract(ctx, inner, dest, innerProbe); err != nil {
					return err
				}
			}
			if err := os.Remove(inner); err != nil {
				t.logger.Warn().Err(err).Str("path", inner).Msg("failed to remove inner tar")
			}
		}
	}
	return nil
}

func isTarWrapper(typ string) bool {
	switch strings.ToLower(typ) {
	case "gzip", "bzip2", "xz":
		return true
	}
	return false
}

// singleTarMember returns the sole top-level *.tar file in dir, if that is
// all the extraction produced.
func singleTarMember(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		return ""
	}
	e := entries[0]
	if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".tar") {
		return ""
	}
	return filepath.Join(dir, e.Name())
}

// validateEntries rejects encrypted members and any entry path that would
// resolve outside dest.
func validateEntries(dest string, entries []Entry) error {
	for _, e := range entries {
		if e.Encrypted {
			return ErrEncrypted
		}
		if _, err := fsguard.SafeJoin(dest, e.Path); err != nil {
			return fmt.Errorf("%w: %s", ErrUnsafeEntry, e.Path)
		}
	}
	return nil
}

// verifyTree walks an extracted tree and rejects symlinks whose target
// resolves outside it.
func verifyTree(dest string) error {
	return filepath.WalkDir(dest, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		target, err := os.Readlink(p)
		if err != nil {
			return fmt.Errorf("failed to read symlink: %w", err)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(p), target)
		}
		if _, err := fsguard.SafeJoin(dest, target); err != nil {
			return fmt.Errorf("%w: %s", ErrUnsafeEntry, d.Name())
		}
		return nil
	})
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
