// Package memfs is a volatile, in-memory hierarchical filesystem with a current-directory cursor.
//
// Paths starting with "/" resolve from the root and all others from the cursor. File contents are
// stored in allocator memory through heap.Buffer.
package memfs

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/tinykern/kcore/heap"
	"github.com/tinykern/kcore/internal/utils"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// Options contains optional settings when creating a FileSystem
type Options struct {
	// RootAnchoredIO makes ReadFile and WriteFile treat their path as a single name directly
	// under the root, and CreateDirectory resolve from the root, ignoring the cursor.
	RootAnchoredIO bool
	// ExternallySynchronized turns off both internal spinlocks
	ExternallySynchronized bool
	// Interrupts is masked while either lock is held
	Interrupts utils.InterruptMask
	// Clock supplies timestamps. Defaults to time.Now.
	Clock func() time.Time
}

// FileSystem owns the directory tree and the cursor. The cursor lock is always taken before the
// tree lock.
type FileSystem struct {
	logger    *slog.Logger
	allocator *heap.Allocator
	options   Options
	now       func() time.Time

	cursorMutex utils.OptionalMutex
	cursor      []string

	treeMutex utils.OptionalMutex
	root      *Node
}

func New(logger *slog.Logger, allocator *heap.Allocator, options Options) *FileSystem {
	clock := options.Clock
	if clock == nil {
		clock = time.Now
	}

	fs := &FileSystem{
		logger:    logger,
		allocator: allocator,
		options:   options,
		now:       clock,
		cursorMutex: utils.OptionalMutex{
			UseMutex:   !options.ExternallySynchronized,
			Interrupts: options.Interrupts,
		},
		treeMutex: utils.OptionalMutex{
			UseMutex:   !options.ExternallySynchronized,
			Interrupts: options.Interrupts,
		},
	}
	fs.root = newDirectory(clock())

	return fs
}

func (fs *FileSystem) lockBoth() {
	fs.cursorMutex.Lock()
	fs.treeMutex.Lock()
}

func (fs *FileSystem) unlockBoth() {
	fs.treeMutex.Unlock()
	fs.cursorMutex.Unlock()
}

// List returns the sorted entries of the directory at path. An empty path lists the current
// directory. A missing path, or one naming a file, yields an empty list.
func (fs *FileSystem) List(path string) []Entry {
	fs.logger.Debug("FileSystem::List", slog.String("path", path))

	fs.lockBoth()
	defer fs.unlockBoth()

	dir, err := fs.walkDirectory(fs.resolve(path))
	if err != nil {
		return []Entry{}
	}
	return dir.entries()
}

// ListRoot returns the sorted entries of the root directory
func (fs *FileSystem) ListRoot() []Entry {
	return fs.List(separator)
}

// Stat describes the node at path. The root is named "/".
func (fs *FileSystem) Stat(path string) (Entry, error) {
	fs.lockBoth()
	defer fs.unlockBoth()

	components := fs.resolve(path)
	node, err := fs.walk(components)
	if err != nil {
		return Entry{}, err
	}

	name := separator
	if len(components) > 0 {
		name = components[len(components)-1]
	}
	return node.entry(name), nil
}

// CreateDirectory creates the directory at path along with any missing parents. Directories that
// already exist are left untouched; a file anywhere along the path is an error.
func (fs *FileSystem) CreateDirectory(path string) error {
	fs.logger.Debug("FileSystem::CreateDirectory", slog.String("path", path))

	if strings.TrimSpace(path) == "" {
		return ErrInvalidPath
	}

	fs.lockBoth()
	defer fs.unlockBoth()

	var components []string
	if fs.options.RootAnchoredIO {
		parts, _ := splitPath(path)
		components = join(nil, parts)
	} else {
		components = fs.resolve(path)
	}

	_, err := fs.mkdirAll(components)
	return err
}

// ReadFile returns a copy of the content of the file at path
func (fs *FileSystem) ReadFile(path string) ([]byte, error) {
	fs.logger.Debug("FileSystem::ReadFile", slog.String("path", path))

	fs.lockBoth()
	defer fs.unlockBoth()

	components, err := fs.ioComponents(path)
	if err != nil {
		return nil, err
	}

	node, err := fs.walk(components)
	if err != nil {
		return nil, err
	}

	switch node.Kind {
	case KindFile:
		return node.content.Bytes()
	case KindDirectory:
		return nil, errors.Wrapf(ErrNotFile, "%s", path)
	default:
		panic(errors.AssertionFailedf("unknown node kind %d", node.Kind))
	}
}

// CreateFile creates or overwrites the file at path with content, creating any missing parent
// directories. A nil content creates an empty file. An existing directory is never replaced.
func (fs *FileSystem) CreateFile(path string, content []byte) error {
	fs.logger.Debug("FileSystem::CreateFile", slog.String("path", path), slog.Int("size", len(content)))

	fs.lockBoth()
	defer fs.unlockBoth()

	parentComponents, name, err := splitLast(fs.resolve(path))
	if err != nil {
		return err
	}

	// A stale cursor must not be silently recreated
	if !strings.HasPrefix(path, separator) {
		if _, err := fs.walkDirectory(fs.cursor); err != nil {
			return err
		}
	}

	parent, err := fs.walkDirectory(parentComponents)
	if err == nil {
		return fs.putFile(parent, name, content, false)
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	// Some parent is missing. Allocate the content first so running out of memory leaves no
	// directories behind.
	file, err := newFile(fs.allocator, content, fs.now())
	if err != nil {
		return err
	}

	parent, err = fs.mkdirAll(parentComponents)
	if err != nil {
		return errors.CombineErrors(err, file.release())
	}

	parent.children[name] = file
	parent.Modified = file.Created
	return nil
}

// WriteFile replaces the content of the file at path with data, or appends data when appending is
// set. A missing file is created in either case, but missing parent directories are not.
func (fs *FileSystem) WriteFile(path string, data []byte, appending bool) error {
	fs.logger.Debug("FileSystem::WriteFile", slog.String("path", path), slog.Int("size", len(data)), slog.Bool("append", appending))

	fs.lockBoth()
	defer fs.unlockBoth()

	components, err := fs.ioComponents(path)
	if err != nil {
		return err
	}

	parentComponents, name, err := splitLast(components)
	if err != nil {
		return err
	}

	parent, err := fs.walkDirectory(parentComponents)
	if err != nil {
		return err
	}

	return fs.putFile(parent, name, data, appending)
}

// ioComponents resolves the path used by ReadFile and WriteFile
func (fs *FileSystem) ioComponents(path string) ([]string, error) {
	if fs.options.RootAnchoredIO {
		return rootAnchored(path)
	}

	components := fs.resolve(path)
	if len(components) == 0 {
		return nil, ErrInvalidPath
	}
	return components, nil
}

// putFile writes data to the file name inside parent, creating it when missing. The tree lock must
// be held.
func (fs *FileSystem) putFile(parent *Node, name string, data []byte, appending bool) error {
	now := fs.now()

	existing, ok := parent.children[name]
	if !ok {
		file, err := newFile(fs.allocator, data, now)
		if err != nil {
			return err
		}

		parent.children[name] = file
		parent.Modified = now
		return nil
	}

	switch existing.Kind {
	case KindFile:
		var err error
		if appending {
			err = existing.content.Append(data)
		} else {
			err = existing.content.Set(data)
		}
		if err != nil {
			return err
		}

		existing.Modified = now
		return nil
	case KindDirectory:
		return errors.Wrapf(ErrNotFile, "%s", name)
	default:
		panic(errors.AssertionFailedf("unknown node kind %d", existing.Kind))
	}
}

// ChangeDirectory moves the cursor. "/" returns to the root, ".." moves to the parent and any
// other single name moves into that child of the current directory. "." stays put.
func (fs *FileSystem) ChangeDirectory(path string) error {
	fs.logger.Debug("FileSystem::ChangeDirectory", slog.String("path", path))

	fs.cursorMutex.Lock()
	defer fs.cursorMutex.Unlock()

	switch path {
	case separator:
		fs.cursor = fs.cursor[:0]
		return nil
	case "..":
		if len(fs.cursor) == 0 {
			return ErrAtRoot
		}
		fs.cursor = fs.cursor[:len(fs.cursor)-1]
		return nil
	case ".":
		return nil
	case "":
		return ErrInvalidPath
	}

	if strings.Contains(path, separator) {
		return errors.Wrapf(ErrInvalidPath, "%s", path)
	}

	fs.treeMutex.Lock()
	defer fs.treeMutex.Unlock()

	target := append(slices.Clone(fs.cursor), path)
	if _, err := fs.walkDirectory(target); err != nil {
		return err
	}

	fs.cursor = target
	return nil
}

// CurrentPath returns a copy of the cursor. The root is an empty slice.
func (fs *FileSystem) CurrentPath() []string {
	fs.cursorMutex.Lock()
	defer fs.cursorMutex.Unlock()

	path := make([]string, len(fs.cursor))
	copy(path, fs.cursor)
	return path
}

// Remove deletes the node at path and releases the memory of every file under it. A directory
// with entries is only removed when recursive is set. The cursor is left alone even if it pointed
// into the removed subtree.
func (fs *FileSystem) Remove(path string, recursive bool) error {
	fs.logger.Debug("FileSystem::Remove", slog.String("path", path), slog.Bool("recursive", recursive))

	fs.lockBoth()
	defer fs.unlockBoth()

	parentComponents, name, err := splitLast(fs.resolve(path))
	if err != nil {
		return err
	}

	parent, err := fs.walkDirectory(parentComponents)
	if err != nil {
		return err
	}

	node, ok := parent.children[name]
	if !ok {
		return errors.Wrapf(ErrNotFound, "%s", name)
	}

	switch node.Kind {
	case KindDirectory:
		if len(node.children) > 0 && !recursive {
			return errors.Wrapf(ErrNotEmpty, "%s", name)
		}
	case KindFile:
	default:
		panic(errors.AssertionFailedf("unknown node kind %d", node.Kind))
	}

	delete(parent.children, name)
	parent.Modified = fs.now()
	return node.release()
}

// Close releases the memory held by every file and empties the tree
func (fs *FileSystem) Close() error {
	fs.lockBoth()
	defer fs.unlockBoth()

	err := fs.root.release()
	fs.cursor = fs.cursor[:0]
	return err
}
