// Package survey produces a compact description of a project tree for
// requirements discovery: the file inventory plus excerpts of the files
// that usually anchor a plan (README, module manifests).
package survey

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// skipDirs are directories never worth surveying: dependencies, build
// output, editor state, version control.
var skipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"target":       true,
}

const (
	// DefaultMaxFiles caps the inventory so the prompt stays bounded.
	DefaultMaxFiles = 200

	// DefaultMaxExcerpt caps each anchor-file excerpt in bytes.
	DefaultMaxExcerpt = 4096
)

// defaultAnchors are files excerpted in full (up to MaxExcerpt) because
// they describe the project better than any listing.
var defaultAnchors = []string{
	"README.md",
	"go.mod",
	"package.json",
	"pyproject.toml",
	"Cargo.toml",
	"Makefile",
}

// Options tunes a survey. Zero values take the defaults above.
type Options struct {
	MaxFiles   int
	MaxExcerpt int
	Anchors    []string
}

func (o *Options) applyDefaults() {
	if o.MaxFiles <= 0 {
		o.MaxFiles = DefaultMaxFiles
	}
	if o.MaxExcerpt <= 0 {
		o.MaxExcerpt = DefaultMaxExcerpt
	}
	if o.Anchors == nil {
		o.Anchors = defaultAnchors
	}
}

// Survey is the collected description of a project tree.
type Survey struct {
	Root      string            // absolute project root
	Files     []string          // relative slash-separated paths, sorted
	Truncated bool              // true when MaxFiles cut the inventory short
	Excerpts  map[string]string // anchor file -> excerpt
}

// Collect walks the tree at root and gathers the inventory and anchor
// excerpts. Hidden files and directories are skipped, which keeps .coco
// state and anything like .env out of LLM-bound prompts.
func Collect(ctx context.Context, root string, opts Options) (*Survey, error) {
	opts.applyDefaults()

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving survey root %s: %w", root, err)
	}

	s := &Survey{Root: abs, Excerpts: make(map[string]string)}
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == abs {
				return nil
			}
			if skipDirs[name] || strings.HasPrefix(name, ".") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if len(s.Files) >= opts.MaxFiles {
			s.Truncated = true
			return fs.SkipAll
		}
		rel, err := filepath.Rel(abs, path)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}
		s.Files = append(s.Files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("surveying %s: %w", abs, err)
	}
	sort.Strings(s.Files)

	for _, anchor := range opts.Anchors {
		content, err := os.ReadFile(filepath.Join(abs, anchor))
		if err != nil {
			continue
		}
		if !utf8.Valid(content) {
			continue
		}
		if len(content) > opts.MaxExcerpt {
			content = content[:opts.MaxExcerpt]
		}
		s.Excerpts[anchor] = string(content)
	}
	return s, nil
}

// Render formats the survey as a prompt block: the inventory first, then
// each anchor excerpt fenced by its name.
func (s *Survey) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project files (%d", len(s.Files))
	if s.Truncated {
		b.WriteString(", truncated")
	}
	b.WriteString("):\n")
	for _, f := range s.Files {
		fmt.Fprintf(&b, "- %s\n", f)
	}

	anchors := make([]string, 0, len(s.Excerpts))
	for name := range s.Excerpts {
		anchors = append(anchors, name)
	}
	sort.Strings(anchors)
	for _, name := range anchors {
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", name, s.Excerpts[name])
	}
	return b.String()
}
