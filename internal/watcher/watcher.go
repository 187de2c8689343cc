package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/sitepipe/internal/logging"
)

// FileWatcher turns fsnotify events into ChangeEvents. It watches
// directory trees recursively and follows newly created directories.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	filters  []FileFilter
	handlers []ChangeHandler
	logger   logging.Logger
	mutex    sync.RWMutex
	wg       sync.WaitGroup

	// trees are the roots watched recursively. pending are roots that did
	// not exist yet; their nearest existing ancestor is watched instead.
	trees   []string
	pending []pendingRoot
}

type pendingRoot struct {
	root     string
	boundary string
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileFilter determines if a file should be watched
type FileFilter func(path string) bool

// ChangeHandler handles a single file change event
type ChangeHandler func(event ChangeEvent)

// NewFileWatcher creates a new file watcher
func NewFileWatcher(logger logging.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}

	return &FileWatcher{
		watcher: watcher,
		logger:  logger.WithComponent("watcher"),
	}, nil
}

// AddFilter adds a file filter
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// AddRecursive adds a directory and all subdirectories to watch. A
// missing root is skipped; use AddRecursiveWithin to wait for it.
func (fw *FileWatcher) AddRecursive(root string) error {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" || d.Name() == "node_modules" {
			return filepath.SkipDir
		}
		return fw.watcher.Add(path)
	})
	if err != nil {
		return err
	}

	fw.mutex.Lock()
	if !fw.inTree(root) {
		fw.trees = append(fw.trees, root)
	}
	fw.mutex.Unlock()
	return nil
}

// AddRecursiveWithin is AddRecursive for a root that may not exist yet.
// A missing root is remembered and its nearest existing ancestor, no
// higher than boundary, is watched without recursion. Once the root is
// created it is watched recursively and the files already in it are
// reported as created.
func (fw *FileWatcher) AddRecursiveWithin(root, boundary string) error {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); err == nil {
		return fw.AddRecursive(root)
	}

	p := pendingRoot{root: root, boundary: filepath.Clean(boundary)}
	fw.mutex.Lock()
	fw.pending = append(fw.pending, p)
	fw.mutex.Unlock()
	return fw.watchAncestor(p)
}

func (fw *FileWatcher) watchAncestor(p pendingRoot) error {
	dir := filepath.Dir(p.root)
	for inDir(dir, p.boundary) {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return fw.watcher.Add(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil
}

// followDir handles a newly created directory.
func (fw *FileWatcher) followDir(dir string, handlers []ChangeHandler) {
	fw.mutex.RLock()
	tracked := fw.inTree(dir)
	var waiting []pendingRoot
	for _, p := range fw.pending {
		if inDir(p.root, dir) {
			waiting = append(waiting, p)
		}
	}
	fw.mutex.RUnlock()

	if tracked {
		// Existing files are reported since the directory may have been
		// moved in whole.
		if err := fw.AddRecursive(dir); err != nil {
			fw.logger.Warn(context.Background(), err, "Failed to watch new directory", "path", dir)
		}
		fw.emitTree(dir, handlers)
		return
	}

	for _, p := range waiting {
		if _, err := os.Stat(p.root); err != nil {
			if err := fw.watchAncestor(p); err != nil {
				fw.logger.Warn(context.Background(), err, "Failed to watch directory", "path", dir)
			}
			continue
		}
		fw.mutex.Lock()
		fw.dropPending(p.root)
		fw.mutex.Unlock()
		if err := fw.AddRecursive(p.root); err != nil {
			fw.logger.Warn(context.Background(), err, "Failed to watch new directory", "path", p.root)
		}
		fw.emitTree(p.root, handlers)
	}
}

// inTree reports whether dir lies in a recursively watched tree. fw.mutex
// must be held.
func (fw *FileWatcher) inTree(dir string) bool {
	for _, t := range fw.trees {
		if inDir(dir, t) {
			return true
		}
	}
	return false
}

// dropPending forgets root. fw.mutex must be held.
func (fw *FileWatcher) dropPending(root string) {
	kept := fw.pending[:0]
	for _, p := range fw.pending {
		if p.root != root {
			kept = append(kept, p)
		}
	}
	fw.pending = kept
}

// Pending returns the roots still waiting to be created.
func (fw *FileWatcher) Pending() []string {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()
	out := make([]string, len(fw.pending))
	for i, p := range fw.pending {
		out[i] = p.root
	}
	return out
}

func inDir(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+string(filepath.Separator))
}

// WatchList returns the directories currently watched.
func (fw *FileWatcher) WatchList() []string {
	return fw.watcher.WatchList()
}

// Start starts the file watcher
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.wg.Add(1)
	go func() {
		defer fw.wg.Done()
		fw.watchLoop(ctx)
	}()
	return nil
}

// Stop stops the file watcher and cleans up resources
func (fw *FileWatcher) Stop() error {
	err := fw.watcher.Close()
	fw.wg.Wait()
	return err
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	fw.mutex.RLock()
	filters := fw.filters
	handlers := fw.handlers
	fw.mutex.RUnlock()

	for _, filter := range filters {
		if !filter(event.Name) {
			return
		}
	}

	info, err := os.Stat(event.Name)
	var modTime time.Time
	var size int64
	if err == nil {
		modTime = info.ModTime()
		size = info.Size()
	}

	var eventType EventType
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventTypeCreated
		if err == nil && info.IsDir() {
			fw.followDir(filepath.Clean(event.Name), handlers)
			return
		}
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventTypeModified
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventTypeDeleted
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventTypeRenamed
	default:
		eventType = EventTypeModified
	}

	if err == nil && info.IsDir() {
		return
	}

	ev := ChangeEvent{Type: eventType, Path: event.Name, ModTime: modTime, Size: size}
	for _, h := range handlers {
		h(ev)
	}
}

func (fw *FileWatcher) emitTree(dir string, handlers []ChangeHandler) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		for _, h := range handlers {
			h(ChangeEvent{Type: EventTypeCreated, Path: path})
		}
		return nil
	})
}

// NoGitFilter rejects paths inside a .git directory.
func NoGitFilter(path string) bool {
	path = filepath.ToSlash(path)
	return !strings.HasPrefix(path, ".git/") && !strings.Contains(path, "/.git/")
}

// NoEditorTempFilter rejects swap and backup files written by editors.
func NoEditorTempFilter(path string) bool {
	base := filepath.Base(path)
	switch {
	case strings.HasSuffix(base, "~"),
		strings.HasSuffix(base, ".swp"),
		strings.HasSuffix(base, ".swx"),
		strings.HasPrefix(base, ".#"),
		base == "4913":
		return false
	}
	return true
}
