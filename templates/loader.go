package templates

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Pattern matches template files below a root.
const Pattern = "**/*.{yaml,yml}"

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Builtin returns the embedded template files.
func Builtin() fs.FS {
	sub, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		panic(err)
	}
	return sub
}

// Parse decodes and validates one template document.
func Parse(data []byte) (Template, error) {
	var t Template
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return Template{}, fmt.Errorf("decode template: %w", err)
	}
	t.normalize()
	if err := t.Validate(); err != nil {
		return Template{}, err
	}
	return t, nil
}

// LoadFS reads every file matching Pattern in fsys, in path order. Any
// invalid file fails the load.
func LoadFS(fsys fs.FS) ([]Template, error) {
	return loadFS(fsys, nil)
}

// loadFS skips invalid files when logger is set instead of failing.
func loadFS(fsys fs.FS, logger *slog.Logger) ([]Template, error) {
	paths, err := doublestar.Glob(fsys, Pattern)
	if err != nil {
		return nil, fmt.Errorf("glob templates: %w", err)
	}
	sort.Strings(paths)

	out := make([]Template, 0, len(paths))
	for _, p := range paths {
		t, err := readTemplate(fsys, p)
		if err == nil {
			out = append(out, t)
			continue
		}
		if logger == nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		logger.Warn("Skipping invalid template file", "path", p, "error", err)
	}
	return out, nil
}

func readTemplate(fsys fs.FS, path string) (Template, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return Template{}, err
	}
	return Parse(data)
}

// Loader builds catalogs from the built-in set plus an optional directory.
type Loader struct {
	dir    string
	logger *slog.Logger
}

// NewLoader creates a loader. An empty dir serves built-ins only.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{dir: dir, logger: logger}
}

// Dir returns the template directory, if any.
func (l *Loader) Dir() string { return l.dir }

// Load reads all templates. Directory templates override built-ins with the
// same slug; invalid directory files are logged and skipped. A missing
// directory is not an error.
func (l *Loader) Load(ctx context.Context) (*Catalog, error) {
	list, err := LoadFS(Builtin())
	if err != nil {
		return nil, fmt.Errorf("built-in templates: %w", err)
	}
	if l.dir == "" {
		return NewCatalog(list), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(l.dir); errors.Is(err, fs.ErrNotExist) {
		l.logger.Debug("Template directory not found, using built-ins", "dir", l.dir)
		return NewCatalog(list), nil
	}
	extra, err := loadFS(os.DirFS(l.dir), l.logger)
	if err != nil {
		return nil, err
	}

	catalog := NewCatalog(append(list, extra...))
	l.logger.Debug("Templates loaded", "builtin", len(list), "dir", l.dir, "from_dir", len(extra))
	return catalog, nil
}
