package template

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/felixgeelhaar/boxci/internal/errors"
)

// Export streams a template bundle as a deterministic .tar.gz: zeroed
// timestamps and ownership, fixed 0644 mode, entries sorted by path. The
// archive layout matches the on-disk templates layout,
//
//	<name>/template.yaml
//	<name>/files/<...>
//
// so users can extract directly into a templates root.
func Export(roots []string, name string, w io.Writer) error {
	entry, err := Resolve(roots, name)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	if entry.Origin == OriginEmbedded {
		if err := appendBytes(tw, "generic/template.yaml", []byte(genericMetaYAML)); err != nil {
			return err
		}
		if err := appendBytes(tw, "generic/files/boxci.yaml", []byte(GenericConfigYAML)); err != nil {
			return err
		}
	} else {
		metaPath := filepath.Join(entry.Dir, "template.yaml")
		meta, err := os.ReadFile(metaPath)
		if err != nil {
			return errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("read %s", metaPath), err)
		}
		if err := appendBytes(tw, name+"/template.yaml", meta); err != nil {
			return err
		}

		filesRoot := filepath.Join(entry.Dir, "files")
		if !isDir(filesRoot) {
			return errors.Newf(errors.ErrCodeTemplateUnsafe, "template %q is missing files/ directory: %s", name, filesRoot)
		}
		files, err := collectFilesSorted(filesRoot)
		if err != nil {
			return err
		}
		for _, f := range files {
			if err := ensureSafeRelPath(f.rel); err != nil {
				return err
			}
			data, err := os.ReadFile(f.abs)
			if err != nil {
				return errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("read %s", f.abs), err)
			}
			if err := appendBytes(tw, path.Join(name, "files", filepath.ToSlash(f.rel)), data); err != nil {
				return err
			}
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalize tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finalize gzip: %w", err)
	}
	return nil
}

// ExportToFile writes a template bundle to a .tar.gz file. The output path
// must end with .tar.gz and must not already exist; the bundle is assembled
// in a temp file and renamed into place.
func ExportToFile(roots []string, name, output string) error {
	if !strings.HasSuffix(output, ".tar.gz") {
		return errors.Newf(errors.ErrCodeFileWriteFailed, "output path must end with .tar.gz: %s", output)
	}
	if _, err := os.Stat(output); err == nil {
		return errors.Newf(errors.ErrCodeFileWriteFailed, "output file already exists: %s", output)
	}

	if parent := filepath.Dir(output); parent != "" && parent != "." {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return errors.Wrap(errors.ErrCodeDirectoryFailed, fmt.Sprintf("create directory %s", parent), err)
		}
	}

	tmp := filepath.Join(filepath.Dir(output), fmt.Sprintf(".%s.tmp-%d", filepath.Base(output), os.Getpid()))
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, fmt.Sprintf("create temp file %s", tmp), err)
	}

	if err := Export(roots, name, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(errors.ErrCodeFileWriteFailed, fmt.Sprintf("close %s", tmp), err)
	}
	if err := os.Rename(tmp, output); err != nil {
		os.Remove(tmp)
		return errors.Wrap(errors.ErrCodeFileWriteFailed, fmt.Sprintf("rename %s to %s", tmp, output), err)
	}
	return nil
}

func appendBytes(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     int64(len(data)),
		Mode:     0o644,
		ModTime:  time.Unix(0, 0),
		Format:   tar.FormatGNU,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write tar entry %s: %w", name, err)
	}
	return nil
}
