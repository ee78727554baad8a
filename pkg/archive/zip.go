package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
)

// newZipWriter returns a zip.Writer whose Deflate streams are produced at
// the requested level (clamped to 0..9).
func newZipWriter(out io.Writer, level int) *zip.Writer {
	if level < 0 {
		level = 0
	}
	if level > 9 {
		level = 9
	}
	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})
	return zw
}

// BuildZip packs srcDir into a Deflate ZIP at destZip, preserving relative
// forward-slash paths. Directory entries are kept; symlinks and other
// non-regular files are skipped. Returns the size of the written archive.
func BuildZip(srcDir, destZip string, level int) (int64, error) {
	out, err := os.Create(destZip)
	if err != nil {
		return 0, fmt.Errorf("failed to create zip: %w", err)
	}
	zw := newZipWriter(out, level)

	walkErr := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == srcDir {
			return nil
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			_, err := zw.CreateHeader(&zip.FileHeader{
				Name:   rel + "/",
				Method: zip.Store,
			})
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return addFile(zw, p, rel, info)
	})

	if cerr := zw.Close(); walkErr == nil {
		walkErr = cerr
	}
	if cerr := out.Close(); walkErr == nil {
		walkErr = cerr
	}
	if walkErr != nil {
		os.Remove(destZip)
		return 0, fmt.Errorf("failed to build zip: %w", walkErr)
	}

	st, err := os.Stat(destZip)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// ZipFile packs a single file into a Deflate ZIP under the given member
// name. Used by the legacy upload path to canonicalize bare payloads.
func ZipFile(src, destZip, arcname string, level int) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("failed to stat source: %w", err)
	}

	out, err := os.Create(destZip)
	if err != nil {
		return 0, fmt.Errorf("failed to create zip: %w", err)
	}
	zw := newZipWriter(out, level)

	addErr := addFile(zw, src, arcname, info)
	if cerr := zw.Close(); addErr == nil {
		addErr = cerr
	}
	if cerr := out.Close(); addErr == nil {
		addErr = cerr
	}
	if addErr != nil {
		os.Remove(destZip)
		return 0, fmt.Errorf("failed to build zip: %w", addErr)
	}

	st, err := os.Stat(destZip)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func addFile(zw *zip.Writer, diskPath, arcname string, info fs.FileInfo) error {
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = arcname
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	f, err := os.Open(diskPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}
