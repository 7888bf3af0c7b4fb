package fsutil

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	goupdate "github.com/doitdistributed/go-update"

	// Ensure SHA512 available for checksum calculation.
	_ "crypto/sha512"
)

const (
	// DefaultFileMode is used for documents written by the server.
	DefaultFileMode os.FileMode = 0o644
	// DefaultDirMode is used for directories created by the server.
	DefaultDirMode os.FileMode = 0o755

	// DefaultChecksumFunction is used to verify replaced files and bundle contents.
	DefaultChecksumFunction crypto.Hash = crypto.SHA512
)

var errHashUnavailable = errors.New("hash function unavailable")

// Checksum returns the DefaultChecksumFunction digest of data.
func Checksum(data []byte) ([]byte, error) {
	if !DefaultChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	hasher := DefaultChecksumFunction.New()
	if _, err := hasher.Write(data); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}

// ReplaceFile atomically replaces path with data. The new content is staged next
// to the target and renamed over it, so readers never observe a truncated file.
func ReplaceFile(path string, data []byte, mode os.FileMode) error {
	path = filepath.Clean(path)

	checksum, err := Checksum(data)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(path), DefaultDirMode); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	// go-update renames the current target aside, so it has to exist.
	if _, err = os.Stat(path); errors.Is(err, os.ErrNotExist) {
		var placeholder *os.File

		placeholder, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY, mode)
		if err != nil {
			return fmt.Errorf("create %s: %w", filepath.Base(path), err)
		}

		if err = placeholder.Close(); err != nil {
			return err
		}
	} else if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}

	options := goupdate.Options{
		TargetPath: path,
		TargetMode: mode,
		Checksum:   checksum,
		Hash:       DefaultChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}

	removeLeftovers(path)

	return nil
}

// removeLeftovers deletes the previous content go-update may leave behind.
func removeLeftovers(path string) {
	dir, name := filepath.Split(path)

	for _, leftover := range []string{path + ".old", filepath.Join(dir, "."+name+".old")} {
		if _, err := os.Lstat(leftover); err == nil {
			_ = os.Remove(leftover)
		}
	}
}

// Exists reports whether path exists. Errors other than "not exist" count as existing.
func Exists(path string) bool {
	_, err := os.Lstat(path)

	return !errors.Is(err, os.ErrNotExist)
}

// CopyFile copies a regular file, creating the destination's parent directories.
func CopyFile(src, dst string) error {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(dst), DefaultDirMode); err != nil {
		return err
	}

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()

		return err
	}

	return out.Close()
}

// CopyDir recursively copies the directory tree src to dst.
func CopyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		target := filepath.Join(dst, rel)

		switch {
		case entry.IsDir():
			return os.MkdirAll(target, DefaultDirMode)
		case entry.Type().IsRegular():
			return CopyFile(path, target)
		default:
			return nil
		}
	})
}

// MoveDir renames src to dst. When the rename fails (e.g. across devices) the
// tree is copied and the source removed. dst must not exist.
func MoveDir(src, dst string) error {
	if Exists(dst) {
		return fmt.Errorf("move %s: %w", filepath.Base(dst), fs.ErrExist)
	}

	if err := os.MkdirAll(filepath.Dir(dst), DefaultDirMode); err != nil {
		return err
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	if err := CopyDir(src, dst); err != nil {
		_ = os.RemoveAll(dst)

		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}

	return os.RemoveAll(src)
}

// HashDir returns a digest over the relative paths, modes and contents of every
// entry under root. A missing root hashes like an empty one.
func HashDir(root string) ([]byte, error) {
	if !Exists(root) {
		return Checksum(nil)
	}

	var lines []string

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return err
		}

		line := filepath.ToSlash(rel) + "|" + entry.Type().String()

		if entry.Type().IsRegular() {
			contents, err := os.ReadFile(filepath.Clean(path))
			if err != nil {
				return err
			}

			digest, err := Checksum(contents)
			if err != nil {
				return err
			}

			line += fmt.Sprintf("|%x", digest)
		}

		lines = append(lines, line)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(lines)

	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}

	return Checksum(buf.Bytes())
}
