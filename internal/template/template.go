// Package template resolves project starter templates and the embedded
// Containerfiles that back boxci's symbolic container names.
package template

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/felixgeelhaar/boxci/internal/errors"
)

//go:embed containerfiles/Containerfile.*
var containerfiles embed.FS

// GenericConfigYAML is the embedded starter config. REPLACE_ME is substituted
// with the project name during init.
const GenericConfigYAML = `version: 1
project: REPLACE_ME

# Generic starter: runs a no-op step so 'boxci run' works immediately.
# Swap the container for a boxci template (rust-debian, rust-alpine,
# cpp-debian, kde-mixed-debian) or an explicit image reference.

profiles:
  dev:
    container: docker.io/library/alpine:3.20

jobs:
  default:
    profile: dev
    step_order: [info]
    steps:
      info:
        run: [sh, -c, "echo 'boxci initialized for REPLACE_ME'; echo 'Edit boxci.yaml to define real steps.'"]
`

// genericMetaYAML describes the embedded template in the on-disk layout.
const genericMetaYAML = `name: generic
description: Minimal generic starter; edit boxci.yaml to fit your repo
`

// Origin says where a resolved template lives.
type Origin int

const (
	// OriginDisk means the template was found under a search root.
	OriginDisk Origin = iota
	// OriginEmbedded is the built-in fallback (only "generic").
	OriginEmbedded
)

// Entry is one resolved template.
type Entry struct {
	Name string
	// Dir is the template directory for OriginDisk entries; empty otherwise.
	Dir    string
	Origin Origin
}

// SearchRoots returns the template resolution order:
//
//  1. explicit override (--templates-dir / BOXCI_TEMPLATES_DIR)
//  2. project-local: ./.boxci/templates
//  3. XDG config: $XDG_CONFIG_HOME/boxci/templates (fallback: ~/.config/boxci/templates)
//  4. system: /usr/share/boxci/templates
//
// The embedded "generic" template is always available as a fallback.
func SearchRoots(cwd string, overrideDir string) ([]string, error) {
	var roots []string

	if overrideDir != "" {
		roots = append(roots, overrideDir)
	}

	roots = append(roots, filepath.Join(cwd, ".boxci", "templates"))

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		configHome = filepath.Join(home, ".config")
	}
	roots = append(roots, filepath.Join(configHome, "boxci", "templates"))

	roots = append(roots, "/usr/share/boxci/templates")
	return roots, nil
}

// List returns the templates visible across the search roots, sorted by name.
// When several roots carry the same name the first root wins. A template is a
// directory holding a template.yaml.
func List(roots []string) ([]Entry, error) {
	found := make(map[string]Entry)

	for _, root := range roots {
		dirEntries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("read templates dir %s", root), err)
		}
		for _, de := range dirEntries {
			if !de.IsDir() {
				continue
			}
			name := de.Name()
			if _, ok := found[name]; ok {
				continue
			}
			dir := filepath.Join(root, name)
			if !isFile(filepath.Join(dir, "template.yaml")) {
				continue
			}
			found[name] = Entry{Name: name, Dir: dir, Origin: OriginDisk}
		}
	}

	if _, ok := found["generic"]; !ok {
		found["generic"] = Entry{Name: "generic", Origin: OriginEmbedded}
	}

	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		entries = append(entries, found[name])
	}
	return entries, nil
}

// Resolve finds a template by name, disk roots first, with the embedded
// generic template as the only built-in fallback.
func Resolve(roots []string, name string) (Entry, error) {
	for _, root := range roots {
		dir := filepath.Join(root, name)
		if isDir(dir) && isFile(filepath.Join(dir, "template.yaml")) {
			return Entry{Name: name, Dir: dir, Origin: OriginDisk}, nil
		}
	}
	if name == "generic" {
		return Entry{Name: "generic", Origin: OriginEmbedded}, nil
	}
	return Entry{}, errors.Newf(errors.ErrCodeTemplateUnknown, "unknown template %q", name).
		WithSuggestion("run 'boxci templates list' to see available templates")
}

// Init materializes a template into outDir, substituting the project name.
// The destination must exist and be empty; template payloads may not contain
// symlinks or path components that escape the destination.
func Init(roots []string, name, outDir, project string) error {
	entry, err := Resolve(roots, name)
	if err != nil {
		return err
	}
	if err := ensureDirEmpty(outDir); err != nil {
		return err
	}

	if entry.Origin == OriginEmbedded {
		out := strings.ReplaceAll(GenericConfigYAML, "REPLACE_ME", project)
		path := filepath.Join(outDir, "boxci.yaml")
		if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
			return errors.Wrap(errors.ErrCodeFileWriteFailed, fmt.Sprintf("write %s", path), err)
		}
		return nil
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
		dst := filepath.Join(outDir, f.rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return errors.Wrap(errors.ErrCodeDirectoryFailed, fmt.Sprintf("create %s", filepath.Dir(dst)), err)
		}
		data, err := os.ReadFile(f.abs)
		if err != nil {
			return errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("read %s", f.abs), err)
		}
		out := replaceProjectPlaceholder(data, project)
		if err := os.WriteFile(dst, out, 0o644); err != nil {
			return errors.Wrap(errors.ErrCodeFileWriteFailed, fmt.Sprintf("write %s", dst), err)
		}
	}
	return nil
}

// Containerfile returns the embedded Containerfile for a symbolic template
// name. These are the only names the image resolver treats as templates.
func Containerfile(name string) ([]byte, error) {
	data, err := containerfiles.ReadFile("containerfiles/Containerfile." + name)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeTemplateUnknown, "unknown template image container: %s", name)
	}
	return data, nil
}

// IsContainerTemplate reports whether name is a known symbolic container
// template backed by an embedded Containerfile.
func IsContainerTemplate(name string) bool {
	_, err := containerfiles.ReadFile("containerfiles/Containerfile." + name)
	return err == nil
}

type relFile struct {
	rel string
	abs string
}

// collectFilesSorted walks a template payload depth-first and returns its
// regular files sorted by relative path. Symlinks and special files are
// refused outright.
func collectFilesSorted(root string) ([]relFile, error) {
	var out []relFile
	if err := walkPayload(root, "", &out); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rel < out[j].rel })
	return out, nil
}

func walkPayload(dir, rel string, out *[]relFile) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("read %s", dir), err)
	}
	for _, de := range entries {
		abs := filepath.Join(dir, de.Name())
		childRel := de.Name()
		if rel != "" {
			childRel = filepath.Join(rel, de.Name())
		}
		switch {
		case de.Type()&os.ModeSymlink != 0:
			return errors.Newf(errors.ErrCodeTemplateUnsafe, "template contains symlink (refused): %s", abs)
		case de.IsDir():
			if err := walkPayload(abs, childRel, out); err != nil {
				return err
			}
		case de.Type().IsRegular():
			*out = append(*out, relFile{rel: childRel, abs: abs})
		default:
			return errors.Newf(errors.ErrCodeTemplateUnsafe, "template contains unsupported entry: %s", abs)
		}
	}
	return nil
}

// ensureSafeRelPath rejects absolute paths and any "." or ".." components.
func ensureSafeRelPath(rel string) error {
	if rel == "" || filepath.IsAbs(rel) {
		return errors.Newf(errors.ErrCodeTemplateUnsafe, "template produced unsafe path component: %s", rel)
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == "" || part == "." || part == ".." {
			return errors.Newf(errors.ErrCodeTemplateUnsafe, "template produced unsafe path component: %s", rel)
		}
	}
	return nil
}

func ensureDirEmpty(dir string) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return errors.Newf(errors.ErrCodeTemplateUnsafe, "init destination is not a directory: %s", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("read directory %s", dir), err)
	}
	if len(entries) > 0 {
		return errors.Newf(errors.ErrCodeTemplateUnsafe, "init destination directory must be empty: %s", dir)
	}
	return nil
}

func replaceProjectPlaceholder(data []byte, project string) []byte {
	return []byte(strings.ReplaceAll(string(data), "REPLACE_ME", project))
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
