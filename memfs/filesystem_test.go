package memfs_test

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tinykern/kcore/heap"
	"github.com/tinykern/kcore/internal/irq"
	"github.com/tinykern/kcore/memfs"
	"golang.org/x/exp/slog"
)

const testBase heap.Address = 0x4444_4444_0000

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func newFileSystem(t *testing.T, heapSize int, options memfs.Options) (*memfs.FileSystem, *heap.Allocator) {
	allocator := heap.New(testLogger(), heap.CreateOptions{Flags: heap.AllocatorCreateTrackOwnership})
	require.NoError(t, allocator.Init(testBase, heapSize))

	return memfs.New(testLogger(), allocator, options), allocator
}

func names(entries []memfs.Entry) []string {
	result := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir {
			result = append(result, entry.Name+"/")
		} else {
			result = append(result, entry.Name)
		}
	}
	return result
}

func TestNestedDirectoryNavigation(t *testing.T) {
	fs, _ := newFileSystem(t, 100*1024, memfs.Options{})

	require.NoError(t, fs.CreateDirectory("a/b"))
	require.NoError(t, fs.ChangeDirectory("a"))
	require.NoError(t, fs.ChangeDirectory("b"))
	require.Equal(t, []string{"a", "b"}, fs.CurrentPath())

	require.NoError(t, fs.ChangeDirectory(".."))
	require.Equal(t, []string{"a"}, fs.CurrentPath())
	require.NoError(t, fs.ChangeDirectory("."))
	require.Equal(t, []string{"a"}, fs.CurrentPath())
	require.NoError(t, fs.ChangeDirectory("/"))
	require.Empty(t, fs.CurrentPath())
}

func TestCreateDirectoryIdempotent(t *testing.T) {
	fs, _ := newFileSystem(t, 100*1024, memfs.Options{})

	require.NoError(t, fs.CreateDirectory("a/b"))
	require.NoError(t, fs.CreateFile("a/b/keep.txt", []byte("kept")))
	require.NoError(t, fs.CreateDirectory("a/b/c"))

	require.NoError(t, fs.CreateDirectory("a/b"))
	require.NoError(t, fs.CreateDirectory("/a"))
	require.NoError(t, fs.CreateDirectory("/"))

	require.Equal(t, []string{"c/", "keep.txt"}, names(fs.List("a/b")))
	content, err := fs.ReadFile("a/b/keep.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("kept"), content)
}

func TestCreateDirectoryThroughFile(t *testing.T) {
	fs, _ := newFileSystem(t, 100*1024, memfs.Options{})

	require.NoError(t, fs.CreateFile("f", nil))
	require.ErrorIs(t, fs.CreateDirectory("f/g"), memfs.ErrNotDirectory)
	require.ErrorIs(t, fs.CreateDirectory("f"), memfs.ErrNotDirectory)
	require.ErrorIs(t, fs.CreateDirectory(""), memfs.ErrInvalidPath)

	entry, err := fs.Stat("f")
	require.NoError(t, err)
	require.False(t, entry.IsDir)
}

func TestCreateThenReadAndWrite(t *testing.T) {
	fs, _ := newFileSystem(t, 100*1024, memfs.Options{})

	require.NoError(t, fs.CreateFile("note.txt", nil))
	content, err := fs.ReadFile("note.txt")
	require.NoError(t, err)
	require.NotNil(t, content)
	require.Empty(t, content)

	require.NoError(t, fs.WriteFile("note.txt", []byte("hi"), false))
	content, err = fs.ReadFile("note.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), content)
}

func TestWriteThenAppend(t *testing.T) {
	fs, _ := newFileSystem(t, 100*1024, memfs.Options{})
	data := []byte("line of text")

	require.NoError(t, fs.WriteFile("log", data, false))
	require.NoError(t, fs.WriteFile("log", data, true))

	content, err := fs.ReadFile("log")
	require.NoError(t, err)
	require.Equal(t, append(append([]byte{}, data...), data...), content)

	// overwrite drops what was there
	require.NoError(t, fs.WriteFile("log", []byte("x"), false))
	content, err = fs.ReadFile("log")
	require.NoError(t, err)
	require.Equal(t, []byte("x"), content)
}

func TestAppendCreatesMissingFile(t *testing.T) {
	fs, _ := newFileSystem(t, 100*1024, memfs.Options{})

	require.NoError(t, fs.WriteFile("new", []byte("data"), true))
	content, err := fs.ReadFile("new")
	require.NoError(t, err)
	require.Equal(t, []byte("data"), content)
}

func TestChangeDirectoryErrors(t *testing.T) {
	fs, _ := newFileSystem(t, 100*1024, memfs.Options{})

	require.ErrorIs(t, fs.ChangeDirectory(".."), memfs.ErrAtRoot)
	require.Empty(t, fs.CurrentPath())

	require.NoError(t, fs.CreateDirectory("a/b"))
	require.NoError(t, fs.CreateFile("file", nil))

	require.ErrorIs(t, fs.ChangeDirectory("missing"), memfs.ErrNotFound)
	require.ErrorIs(t, fs.ChangeDirectory("file"), memfs.ErrNotDirectory)
	require.ErrorIs(t, fs.ChangeDirectory("a/b"), memfs.ErrInvalidPath)
	require.ErrorIs(t, fs.ChangeDirectory(""), memfs.ErrInvalidPath)
	require.Empty(t, fs.CurrentPath())

	require.Equal(t, "already at root directory", memfs.ErrAtRoot.Error())
}

func TestCurrentPathIsACopy(t *testing.T) {
	fs, _ := newFileSystem(t, 100*1024, memfs.Options{})

	require.NoError(t, fs.CreateDirectory("a"))
	require.NoError(t, fs.ChangeDirectory("a"))

	path := fs.CurrentPath()
	path[0] = "changed"
	require.Equal(t, []string{"a"}, fs.CurrentPath())
}

func TestListSortedAndDegenerate(t *testing.T) {
	fs, _ := newFileSystem(t, 100*1024, memfs.Options{})

	require.NoError(t, fs.CreateFile("charlie", []byte("123")))
	require.NoError(t, fs.CreateDirectory("bravo"))
	require.NoError(t, fs.CreateDirectory("alpha/inner"))

	require.Equal(t, []string{"alpha/", "bravo/", "charlie"}, names(fs.List("")))
	require.Equal(t, []string{"alpha/", "bravo/", "charlie"}, names(fs.ListRoot()))

	entries := fs.List("/")
	require.Equal(t, 1, entries[0].Size)
	require.Equal(t, 3, entries[2].Size)

	require.NotNil(t, fs.List("missing"))
	require.Empty(t, fs.List("missing"))
	require.Empty(t, fs.List("charlie"))

	require.NoError(t, fs.ChangeDirectory("alpha"))
	require.Equal(t, []string{"inner/"}, names(fs.List("")))
	require.Equal(t, []string{"alpha/", "bravo/", "charlie"}, names(fs.ListRoot()))
	require.Equal(t, []string{"alpha/", "bravo/", "charlie"}, names(fs.List("..")))
}

func TestRelativeAndAbsolutePaths(t *testing.T) {
	fs, _ := newFileSystem(t, 100*1024, memfs.Options{})

	require.NoError(t, fs.CreateDirectory("a"))
	require.NoError(t, fs.ChangeDirectory("a"))

	require.NoError(t, fs.CreateFile("x", []byte("in a")))
	require.NoError(t, fs.WriteFile("/top", []byte("at root"), false))
	require.NoError(t, fs.CreateDirectory("sub/deeper"))

	for _, path := range []string{"x", "/a/x", "../a/x", "./x", "sub/../x", "//a//x"} {
		content, err := fs.ReadFile(path)
		require.NoError(t, err, path)
		require.Equal(t, []byte("in a"), content, path)
	}

	content, err := fs.ReadFile("../top")
	require.NoError(t, err)
	require.Equal(t, []byte("at root"), content)

	// ".." never climbs above the root
	content, err = fs.ReadFile("../../../top")
	require.NoError(t, err)
	require.Equal(t, []byte("at root"), content)

	require.Equal(t, []string{"sub/", "x"}, names(fs.List("/a")))
	require.Equal(t, []string{"deeper/"}, names(fs.List("sub")))
}

func TestReadFileErrors(t *testing.T) {
	fs, _ := newFileSystem(t, 100*1024, memfs.Options{})

	require.NoError(t, fs.CreateDirectory("dir"))

	_, err := fs.ReadFile("missing")
	require.ErrorIs(t, err, memfs.ErrNotFound)

	_, err = fs.ReadFile("dir")
	require.ErrorIs(t, err, memfs.ErrNotFile)

	_, err = fs.ReadFile("dir/missing/deeper")
	require.ErrorIs(t, err, memfs.ErrNotFound)

	_, err = fs.ReadFile("/")
	require.ErrorIs(t, err, memfs.ErrInvalidPath)
}

func TestCreateFileWithParents(t *testing.T) {
	fs, _ := newFileSystem(t, 100*1024, memfs.Options{})

	require.NoError(t, fs.CreateFile("x/y/z.txt", []byte("deep")))
	require.Equal(t, []string{"y/"}, names(fs.List("x")))

	content, err := fs.ReadFile("x/y/z.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("deep"), content)

	// overwrite in place
	require.NoError(t, fs.CreateFile("x/y/z.txt", nil))
	content, err = fs.ReadFile("x/y/z.txt")
	require.NoError(t, err)
	require.Empty(t, content)

	require.ErrorIs(t, fs.CreateFile("x/y", []byte("no")), memfs.ErrNotFile)
	require.ErrorIs(t, fs.CreateFile("x/y/z.txt/w", nil), memfs.ErrNotDirectory)
	require.ErrorIs(t, fs.CreateFile("", nil), memfs.ErrInvalidPath)
}

func TestWriteFileErrors(t *testing.T) {
	fs, _ := newFileSystem(t, 100*1024, memfs.Options{})

	require.ErrorIs(t, fs.WriteFile("missing/file", []byte("x"), false), memfs.ErrNotFound)

	require.NoError(t, fs.CreateDirectory("dir"))
	require.ErrorIs(t, fs.WriteFile("dir", []byte("x"), false), memfs.ErrNotFile)
	require.ErrorIs(t, fs.WriteFile("dir", []byte("x"), true), memfs.ErrNotFile)
	require.ErrorIs(t, fs.WriteFile("", []byte("x"), true), memfs.ErrInvalidPath)

	require.NoError(t, fs.WriteFile("dir/file", []byte("x"), false))
	require.Equal(t, []string{"file"}, names(fs.List("dir")))
}

func TestRootAnchoredIO(t *testing.T) {
	fs, _ := newFileSystem(t, 100*1024, memfs.Options{RootAnchoredIO: true})

	require.NoError(t, fs.CreateDirectory("a"))
	require.NoError(t, fs.ChangeDirectory("a"))

	require.NoError(t, fs.WriteFile("n", []byte("flat"), false))
	require.NoError(t, fs.CreateDirectory("made"))
	require.NoError(t, fs.CreateFile("c", []byte("cursor")))

	require.Equal(t, []string{"a/", "made/", "n"}, names(fs.ListRoot()))
	require.Equal(t, []string{"c"}, names(fs.List("")))

	content, err := fs.ReadFile("n")
	require.NoError(t, err)
	require.Equal(t, []byte("flat"), content)

	content, err = fs.ReadFile("/n")
	require.NoError(t, err)
	require.Equal(t, []byte("flat"), content)

	// names are looked up whole under the root, never walked
	_, err = fs.ReadFile("c")
	require.ErrorIs(t, err, memfs.ErrNotFound)
	_, err = fs.ReadFile("a/c")
	require.ErrorIs(t, err, memfs.ErrInvalidPath)
	require.ErrorIs(t, fs.WriteFile("a/b", []byte("nested"), false), memfs.ErrInvalidPath)
	require.ErrorIs(t, fs.WriteFile("/made/x", []byte("nested"), false), memfs.ErrInvalidPath)
	require.Equal(t, []string{"a/", "made/", "n"}, names(fs.ListRoot()))
	require.Empty(t, fs.List("/made"))
}

func TestRemove(t *testing.T) {
	fs, allocator := newFileSystem(t, 100*1024, memfs.Options{})

	require.NoError(t, fs.CreateFile("dir/file", make([]byte, 100)))
	require.NoError(t, fs.CreateFile("dir/nested/other", make([]byte, 3000)))
	require.Equal(t, 1, allocator.SizeClassStatistics()[4].Lent)

	require.ErrorIs(t, fs.Remove("dir", false), memfs.ErrNotEmpty)
	require.ErrorIs(t, fs.Remove("missing", false), memfs.ErrNotFound)
	require.ErrorIs(t, fs.Remove("/", true), memfs.ErrInvalidPath)

	require.NoError(t, fs.Remove("dir/file", false))
	require.Equal(t, 0, allocator.SizeClassStatistics()[4].Lent)
	require.Equal(t, []string{"nested/"}, names(fs.List("dir")))

	require.NoError(t, fs.Remove("dir", true))
	require.Empty(t, fs.ListRoot())
	require.NoError(t, allocator.Validate())
	require.NoError(t, allocator.Destroy())
}

func TestStaleCursor(t *testing.T) {
	fs, _ := newFileSystem(t, 100*1024, memfs.Options{})

	require.NoError(t, fs.CreateDirectory("a/b"))
	require.NoError(t, fs.ChangeDirectory("a"))
	require.NoError(t, fs.ChangeDirectory("b"))
	require.NoError(t, fs.Remove("/a", true))

	require.Equal(t, []string{"a", "b"}, fs.CurrentPath())
	require.Empty(t, fs.List(""))
	require.ErrorIs(t, fs.CreateFile("x", nil), memfs.ErrNotFound)
	require.ErrorIs(t, fs.ChangeDirectory("c"), memfs.ErrNotFound)
	_, err := fs.ReadFile("x")
	require.ErrorIs(t, err, memfs.ErrNotFound)

	// the stale directory was not recreated
	require.Empty(t, fs.ListRoot())

	require.NoError(t, fs.ChangeDirectory(".."))
	require.Equal(t, []string{"a"}, fs.CurrentPath())
	require.NoError(t, fs.ChangeDirectory("/"))
	require.NoError(t, fs.CreateFile("x", nil))
}

func TestTimestamps(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	fs, _ := newFileSystem(t, 100*1024, memfs.Options{Clock: clock})

	require.NoError(t, fs.CreateFile("f", []byte("one")))
	created, err := fs.Stat("f")
	require.NoError(t, err)

	require.NoError(t, fs.WriteFile("f", []byte("two"), true))
	modified, err := fs.Stat("f")
	require.NoError(t, err)
	require.True(t, modified.Modified.After(created.Modified))
	require.Equal(t, 6, modified.Size)

	root, err := fs.Stat("/")
	require.NoError(t, err)
	require.Equal(t, "/", root.Name)
	require.True(t, root.IsDir)
	require.Equal(t, 1, root.Size)
}

func TestFileContentLivesInAllocator(t *testing.T) {
	fs, allocator := newFileSystem(t, 4096, memfs.Options{})

	require.NoError(t, fs.CreateFile("small", make([]byte, 100)))
	require.Equal(t, 1, allocator.SizeClassStatistics()[4].Lent)

	err := fs.CreateFile("huge", make([]byte, 5000))
	require.ErrorIs(t, err, heap.ErrOutOfMemory)
	require.Equal(t, []string{"small"}, names(fs.ListRoot()))

	require.NoError(t, fs.Close())
	require.Empty(t, fs.ListRoot())
	require.NoError(t, allocator.Destroy())
}

func TestFailedCreateLeavesNoDirectories(t *testing.T) {
	fs, _ := newFileSystem(t, 4096, memfs.Options{})

	require.ErrorIs(t, fs.CreateFile("a/b/c", make([]byte, 5000)), heap.ErrOutOfMemory)
	require.Empty(t, fs.ListRoot())

	require.NoError(t, fs.CreateDirectory("a"))
	require.ErrorIs(t, fs.CreateFile("a/b/c", make([]byte, 5000)), heap.ErrOutOfMemory)
	require.Empty(t, fs.List("a"))

	require.NoError(t, fs.CreateFile("a/b/c", []byte("fits")))
	require.Equal(t, []string{"c"}, names(fs.List("a/b")))
}

func TestFailedOverwriteKeepsContent(t *testing.T) {
	fs, _ := newFileSystem(t, 4096, memfs.Options{})

	require.NoError(t, fs.WriteFile("note.txt", []byte("hi"), false))
	require.ErrorIs(t, fs.WriteFile("note.txt", make([]byte, 8192), false), heap.ErrOutOfMemory)

	content, err := fs.ReadFile("note.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), content)
}

func TestInterruptDeferredWhileLocked(t *testing.T) {
	controller := irq.NewController(testLogger())

	raised := false
	var fs *memfs.FileSystem
	clock := func() time.Time {
		// the first timestamp is taken with both locks held
		if fs != nil && !raised {
			raised = true
			controller.Raise(irq.LineKeyboard)
			require.Equal(t, 1, controller.Pending(irq.LineKeyboard))
		}
		return time.Now()
	}

	fs, _ = newFileSystem(t, 100*1024, memfs.Options{
		Interrupts: controller.Line(irq.LineKeyboard),
		Clock:      clock,
	})

	require.NoError(t, controller.Register(irq.LineKeyboard, func(irq.Line) {
		// takes the same locks the interrupted code was holding
		require.NoError(t, fs.CreateFile("typed", []byte("from handler")))
	}))

	require.NoError(t, fs.CreateFile("first", nil))
	require.Equal(t, 1, controller.Delivered(irq.LineKeyboard))
	require.False(t, controller.Masked(irq.LineKeyboard))

	content, err := fs.ReadFile("typed")
	require.NoError(t, err)
	require.Equal(t, []byte("from handler"), content)
}
