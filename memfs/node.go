package memfs

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/tinykern/kcore/heap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type NodeKind uint8

const (
	KindFile NodeKind = iota
	KindDirectory
)

var nodeKindMapping = map[NodeKind]string{
	KindFile:      "file",
	KindDirectory: "directory",
}

func (k NodeKind) String() string {
	return nodeKindMapping[k]
}

// Node is either a file, whose content lives in allocator memory, or a directory owning its
// children. Only the fields of its Kind are set. Directories own their children exclusively and
// nothing points back up the tree.
type Node struct {
	Kind     NodeKind
	Created  time.Time
	Modified time.Time

	content  *heap.Buffer
	children map[string]*Node
}

func newDirectory(now time.Time) *Node {
	return &Node{
		Kind:     KindDirectory,
		Created:  now,
		Modified: now,
		children: make(map[string]*Node),
	}
}

func newFile(allocator *heap.Allocator, data []byte, now time.Time) (*Node, error) {
	content := heap.NewBuffer(allocator)
	if err := content.Append(data); err != nil {
		return nil, err
	}

	return &Node{
		Kind:     KindFile,
		Created:  now,
		Modified: now,
		content:  content,
	}, nil
}

func (n *Node) IsDir() bool {
	return n.Kind == KindDirectory
}

// Size is the content length of a file or the entry count of a directory
func (n *Node) Size() int {
	switch n.Kind {
	case KindFile:
		return n.content.Len()
	case KindDirectory:
		return len(n.children)
	default:
		panic(errors.AssertionFailedf("unknown node kind %d", n.Kind))
	}
}

func (n *Node) sortedNames() []string {
	names := maps.Keys(n.children)
	slices.Sort(names)
	return names
}

func (n *Node) entries() []Entry {
	names := n.sortedNames()
	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		entries = append(entries, n.children[name].entry(name))
	}
	return entries
}

func (n *Node) entry(name string) Entry {
	return Entry{
		Name:     name,
		IsDir:    n.IsDir(),
		Size:     n.Size(),
		Modified: n.Modified,
	}
}

// release frees the allocator memory held by a node and everything below it. The walk uses an
// explicit stack so tree depth never turns into call depth.
func (n *Node) release() error {
	var errs error
	stack := []*Node{n}

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch node.Kind {
		case KindFile:
			if err := node.content.Release(); err != nil {
				errs = errors.CombineErrors(errs, err)
			}
		case KindDirectory:
			for _, child := range node.children {
				stack = append(stack, child)
			}
			node.children = make(map[string]*Node)
		default:
			panic(errors.AssertionFailedf("unknown node kind %d", node.Kind))
		}
	}

	return errs
}

// Entry describes one child of a directory
type Entry struct {
	Name     string
	IsDir    bool
	Size     int
	Modified time.Time
}
