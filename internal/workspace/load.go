package workspace

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/jward/pinpoint/internal/pin"
	"github.com/jward/pinpoint/internal/store"
)

// skipDirs are directories never descended into by the filesystem walk.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"tmp":          true,
	"log":          true,
	"coverage":     true,
}

// LoadStats summarizes one directory load.
type LoadStats struct {
	Discovered int // files accepted by the policy
	Mapped     int // files parsed and mapped
	Reused     int // unchanged files restored from the store
	Removed    int // stored files no longer on disk
	Failed     int
}

// workItem holds everything a mapping worker needs.
type workItem struct {
	filename string
	text     string
	hash     string
}

// Load discovers the files under the root accepted by the policy and merges
// them. Unchanged files whose pins are in the store are restored without
// parsing. Stored files under the root that no longer exist are dropped.
//
// Loading runs in three phases:
//
//	Phase A (serial):   Read files, compare hashes with the store.
//	Phase B (parallel): Map changed files via a worker pool.
//	Phase C (serial):   Commit the batch to SQLite and merge.
func (w *Workspace) Load(ctx context.Context) (*LoadStats, error) {
	if w.root == "" {
		return nil, errors.New("workspace: load requires a root directory")
	}
	stats := &LoadStats{}

	paths, err := w.gitListFiles(ctx)
	if err != nil {
		// Not a git repo or git not available; fall back to walk.
		w.logger.Debugw("git ls-files unavailable, walking directory", "root", w.root, "error", err)
		paths, err = w.walkListFiles()
		if err != nil {
			return nil, err
		}
	}
	if limit := w.policy.MaxFiles(); limit > 0 && len(paths) > limit {
		w.logger.Warnw("workspace file limit reached", "root", w.root, "files", len(paths), "max_files", limit)
		paths = paths[:limit]
	}
	stats.Discovered = len(paths)

	stored, err := w.storedFiles()
	if err != nil {
		return nil, err
	}

	// ---- Phase A: Serial file preparation ----
	seen := make(map[string]bool, len(paths))
	var items []workItem
	for _, path := range paths {
		seen[path] = true
		data, err := os.ReadFile(path)
		if err != nil {
			w.logger.Warnw("read failed", "file", path, "error", err)
			stats.Failed++
			continue
		}
		text := string(data)
		hash := store.ContentHash(text)

		if f, ok := stored[path]; ok && f.Hash == hash {
			pins, err := w.store.PinsByFile(f.ID)
			if err == nil {
				w.set(path, &entry{text: text, hash: hash, pins: pins})
				stats.Reused++
				continue
			}
			w.logger.Warnw("stored pins unreadable, remapping", "file", path, "error", err)
		}
		items = append(items, workItem{filename: path, text: text, hash: hash})
	}

	for path := range stored {
		if seen[path] || !w.under(path) {
			continue
		}
		if _, err := w.store.DeleteFileByPath(path); err != nil {
			return nil, errors.Wrapf(err, "workspace: drop stale %s", path)
		}
		w.set(path, nil)
		stats.Removed++
	}

	if len(items) > 0 {
		mapped, failed, err := w.mapItems(ctx, items)
		if err != nil {
			return nil, err
		}
		stats.Mapped, stats.Failed = mapped, stats.Failed+failed
	}

	if w.store != nil {
		if err := w.store.SetMetadata(conventionsHashKey, w.conventionsHash); err != nil {
			return nil, errors.Wrap(err, "workspace: record conventions hash")
		}
	}
	w.logger.Infow("workspace loaded",
		"root", w.root,
		"discovered", stats.Discovered,
		"mapped", stats.Mapped,
		"reused", stats.Reused,
		"removed", stats.Removed,
		"failed", stats.Failed,
	)
	return stats, nil
}

// storedFiles returns the stored files by path. All of them are treated as
// stale when the convention scripts changed since they were mapped.
func (w *Workspace) storedFiles() (map[string]*store.File, error) {
	out := make(map[string]*store.File)
	if w.store == nil {
		return out, nil
	}
	files, err := w.store.Files()
	if err != nil {
		return nil, errors.Wrap(err, "workspace: list stored files")
	}
	prev, err := w.store.GetMetadata(conventionsHashKey)
	if err != nil {
		return nil, errors.Wrap(err, "workspace: read conventions hash")
	}
	for _, f := range files {
		if prev != w.conventionsHash {
			f.Hash = ""
		}
		out[f.Path] = f
	}
	return out, nil
}

func (w *Workspace) under(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// mapItems runs phases B and C. It returns the number of files mapped and
// the number that failed.
func (w *Workspace) mapItems(ctx context.Context, items []workItem) (int, int, error) {
	type result struct {
		item workItem
		pins []*pin.Pin
		err  error
	}

	// ---- Phase B: Parallel mapping ----
	numWorkers := 1
	if w.parallel {
		numWorkers = min(runtime.NumCPU(), len(items))
	}

	workCh := make(chan workItem, len(items))
	for _, item := range items {
		workCh <- item
	}
	close(workCh)

	resultCh := make(chan result, len(items))
	batch := store.NewBatchedStore(w.store)

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workCh {
				src, err := w.loader.Load(ctx, item.filename, item.text)
				if err != nil {
					resultCh <- result{item: item, err: err}
					continue
				}
				if w.store != nil {
					f := &store.File{Path: item.filename, Hash: item.hash, Text: item.text, LastIndexed: time.Now()}
					if _, err := batch.ReplaceFile(f, src.Pins()); err != nil {
						resultCh <- result{item: item, err: err}
						continue
					}
				}
				resultCh <- result{item: item, pins: src.Pins()}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	// ---- Phase C: Serial commit ----
	var results []result
	for res := range resultCh {
		results = append(results, res)
	}
	if w.store != nil && batch.Len() > 0 {
		if _, err := w.store.CommitBatch(batch); err != nil {
			return 0, 0, errors.Wrap(err, "workspace: commit")
		}
	}

	mapped, failed := 0, 0
	for _, res := range results {
		if res.err != nil {
			w.logger.Warnw("map failed", "file", res.item.filename, "error", res.err)
			failed++
			continue
		}
		w.set(res.item.filename, &entry{text: res.item.text, hash: res.item.hash, pins: res.pins})
		mapped++
	}
	return mapped, failed, nil
}

// gitListFiles uses git ls-files to discover tracked and untracked (but not
// ignored) files under the root, filtered by the policy.
func (w *Workspace) gitListFiles(ctx context.Context) ([]string, error) {
	// --cached: tracked files, --others: untracked files,
	// --exclude-standard: respect .gitignore, .git/info/exclude, global excludes.
	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = w.root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "git ls-files: %s", strings.TrimSpace(stderr.String()))
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !w.policy.Accepts(line) {
			continue
		}
		paths = append(paths, filepath.Join(w.root, filepath.FromSlash(line)))
	}
	sort.Strings(paths)
	return paths, nil
}

// walkListFiles discovers files by walking the filesystem, used as a fallback
// when git is not available. Skips hidden directories and skipDirs.
func (w *Workspace) walkListFiles() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != w.root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		if w.policy.Accepts(rel) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "walk directory")
	}
	sort.Strings(paths)
	return paths, nil
}
