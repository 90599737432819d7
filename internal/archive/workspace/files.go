package workspace

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

const (
	filePerm = 0o644

	// partSuffix marks in-flight writes: <file>.part next to a file, <dir>.part next to a dir.
	partSuffix = ".part"
)

// CopyWithMD5 copies src to dst and returns the number of bytes and the hex MD5 of what was
// written. dst must not exist.
func CopyWithMD5(src, dst string) (int64, string, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, "", fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()
	return writeNew(dst, in)
}

// CopyFile copies src to dst, replacing dst.
func CopyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return n, nil
}

// WriteFrom streams r into a new file at dst, replacing dst, and returns the size and hex MD5.
func WriteFrom(dst string, r io.Reader) (int64, string, error) {
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return 0, "", err
	}
	tmp := dst + partSuffix
	os.Remove(tmp)
	n, sum, err := writeNew(tmp, r)
	if err != nil {
		os.Remove(tmp)
		return n, "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return n, "", fmt.Errorf("failed to move %s to %s: %w", tmp, dst, err)
	}
	return n, sum, nil
}

func writeNew(dst string, r io.Reader) (int64, string, error) {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, filePerm)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create %s: %w", dst, err)
	}
	h := md5.New()
	n, err := io.Copy(io.MultiWriter(out, h), r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, "", fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// FileMD5 returns the hex MD5 of a file.
func FileMD5(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ZipDir writes every regular file of dir as a flat entry of a new zip at dst and returns
// the zip size and hex MD5. dir is left untouched; a failed dst is removed.
func ZipDir(dir, dst string) (size int64, sum string, err error) {
	names, err := Entries(dir)
	if err != nil {
		return 0, "", fmt.Errorf("failed to list %s: %w", dir, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return 0, "", err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer func() {
		if err != nil {
			os.Remove(dst)
		}
	}()

	zw := zip.NewWriter(out)
	for _, name := range names {
		if err = addFile(zw, filepath.Join(dir, name), name); err != nil {
			zw.Close()
			out.Close()
			return 0, "", err
		}
	}
	if err = zw.Close(); err != nil {
		out.Close()
		return 0, "", fmt.Errorf("failed to finish %s: %w", dst, err)
	}
	if err = out.Close(); err != nil {
		return 0, "", fmt.Errorf("failed to close %s: %w", dst, err)
	}

	fi, err := os.Stat(dst)
	if err != nil {
		return 0, "", err
	}
	sum, err = FileMD5(dst)
	if err != nil {
		return 0, "", err
	}
	return fi.Size(), sum, nil
}

func addFile(zw *zip.Writer, src, name string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(fi)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	return nil
}

// ZipEntries lists the entry names of a zip.
func ZipEntries(zipPath string) ([]string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", zipPath, err)
	}
	defer zr.Close()
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names, nil
}

// ExtractEntry extracts one entry of zipPath into dir and returns its size. ErrEntryNotFound
// is returned when the archive has no such entry.
func ExtractEntry(zipPath, entry, dir string) (int64, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", zipPath, err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name == entry {
			return extract(f, dir)
		}
	}
	return 0, fmt.Errorf("%w: %s in %s", ErrEntryNotFound, entry, filepath.Base(zipPath))
}

// Unzip extracts every entry of zipPath into dir and returns how many were written.
func Unzip(zipPath, dir string) (int, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", zipPath, err)
	}
	defer zr.Close()
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return 0, err
	}
	n := 0
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if _, err := extract(f, dir); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func extract(f *zip.File, dir string) (int64, error) {
	name := f.Name
	if err := SafeEntryName(name); err != nil || strings.ContainsAny(name, `/\`) {
		return 0, fmt.Errorf("workspace: refusing zip entry %q", name)
	}
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("failed to read entry %s: %w", name, err)
	}
	defer rc.Close()
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return 0, err
	}

	// dir may be zipped as is; only complete entries are renamed into it
	stage := stagingDir(dir)
	defer os.Remove(stage)
	staged := filepath.Join(stage, name)
	n, _, err := WriteFrom(staged, rc)
	if err != nil {
		return n, err
	}
	if err := os.Rename(staged, filepath.Join(dir, name)); err != nil {
		os.Remove(staged)
		return n, fmt.Errorf("failed to move %s into %s: %w", name, dir, err)
	}
	return n, nil
}

func stagingDir(dir string) string {
	return filepath.Clean(dir) + partSuffix
}

// RemoveIfEmpty removes dir when it holds no regular file. A missing dir counts as removed.
func RemoveIfEmpty(dir string) (bool, error) {
	empty, err := IsEmpty(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil || !empty {
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	return true, nil
}
