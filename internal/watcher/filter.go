package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"
)

// filter decides which paths under the root are watched. Globs are matched
// against "./"-prefixed slash paths; directories are also tried with a
// trailing slash so "**/node_modules/**" prunes the whole subtree.
type filter struct {
	include []glob.Glob
	exclude []glob.Glob
}

func newFilter(watchGlobs, ignoreGlobs []string) (filter, error) {
	if len(watchGlobs) == 0 {
		watchGlobs = []string{"**"}
	}
	include, err := compileGlobs(watchGlobs)
	if err != nil {
		return filter{}, err
	}
	exclude, err := compileGlobs(ignoreGlobs)
	if err != nil {
		return filter{}, err
	}
	return filter{include: include, exclude: exclude}, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func (f filter) ignored(rel string, isDir bool) bool {
	candidates := []string{"./" + rel}
	if isDir {
		candidates = append(candidates, "./"+rel+"/")
	}
	for _, g := range f.exclude {
		for _, c := range candidates {
			if g.Match(c) {
				return true
			}
		}
	}
	return false
}

// matches reports whether a file path is watched: it matches a watch glob
// and no ignore glob.
func (f filter) matches(rel string) bool {
	if rel == "" || f.ignored(rel, false) {
		return false
	}
	for _, g := range f.include {
		if g.Match("./" + rel) {
			return true
		}
	}
	return false
}

// Files lists the files under cfg.Root the watcher would track, as sorted
// slash-separated relative paths. It is the one-shot counterpart of Start
// and sets up no notifications.
func Files(cfg Config) ([]string, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	flt, err := newFilter(cfg.WatchGlobs, cfg.IgnoreGlobs)
	if err != nil {
		return nil, err
	}

	var out []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		r, err := filepath.Rel(root, path)
		if err != nil || r == "." {
			return nil
		}
		rel := filepath.ToSlash(r)
		if d.IsDir() {
			if flt.ignored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !flt.matches(rel) {
			return nil
		}
		if cfg.MaxFileSize > 0 {
			if fi, err := os.Stat(path); err != nil || fi.Size() > cfg.MaxFileSize {
				return nil
			}
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}
