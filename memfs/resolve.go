package memfs

import (
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slices"
)

const separator = "/"

// splitPath breaks a path into its non-empty components. A leading separator makes it absolute.
func splitPath(path string) (components []string, absolute bool) {
	absolute = strings.HasPrefix(path, separator)
	for _, component := range strings.Split(path, separator) {
		if component != "" {
			components = append(components, component)
		}
	}
	return components, absolute
}

// join appends components to base, applying "." and "..". ".." at the root stays at the root.
// base is never modified.
func join(base []string, components []string) []string {
	joined := slices.Clone(base)
	for _, component := range components {
		switch component {
		case ".":
		case "..":
			if len(joined) > 0 {
				joined = joined[:len(joined)-1]
			}
		default:
			joined = append(joined, component)
		}
	}
	return joined
}

// resolve turns a path into components from the root. Relative paths start at the cursor, so the
// cursor lock must be held.
func (fs *FileSystem) resolve(path string) []string {
	components, absolute := splitPath(path)
	if absolute {
		return join(nil, components)
	}
	return join(fs.cursor, components)
}

// walk follows components from the root. The tree lock must be held. Every component except
// possibly the last must be a directory.
func (fs *FileSystem) walk(components []string) (*Node, error) {
	node := fs.root
	for i, component := range components {
		if !node.IsDir() {
			return nil, errors.Wrapf(ErrNotDirectory, "%s", strings.Join(components[:i], separator))
		}

		child, ok := node.children[component]
		if !ok {
			return nil, errors.Wrapf(ErrNotFound, "%s", component)
		}
		node = child
	}
	return node, nil
}

// walkDirectory is walk for a node that must be a directory
func (fs *FileSystem) walkDirectory(components []string) (*Node, error) {
	node, err := fs.walk(components)
	if err != nil {
		return nil, err
	}
	if !node.IsDir() {
		return nil, errors.Wrapf(ErrNotDirectory, "%s", strings.Join(components, separator))
	}
	return node, nil
}

// mkdirAll walks components from the root one at a time, creating each missing directory. The
// tree lock must be held.
func (fs *FileSystem) mkdirAll(components []string) (*Node, error) {
	node := fs.root
	for _, component := range components {
		child, ok := node.children[component]
		if !ok {
			now := fs.now()
			child = newDirectory(now)
			node.children[component] = child
			node.Modified = now
		}

		switch child.Kind {
		case KindDirectory:
			node = child
		case KindFile:
			return nil, errors.Wrapf(ErrNotDirectory, "%s", component)
		default:
			panic(errors.AssertionFailedf("unknown node kind %d", child.Kind))
		}
	}
	return node, nil
}

func splitLast(components []string) (parent []string, name string, err error) {
	if len(components) == 0 {
		return nil, "", ErrInvalidPath
	}
	return components[:len(components)-1], components[len(components)-1], nil
}

// rootAnchored maps a path to the single flat name under the root used by root-anchored file IO.
// The path after any leading separator is the name, so it may not contain another separator.
func rootAnchored(path string) ([]string, error) {
	name := strings.TrimLeft(path, separator)
	if name == "" {
		return nil, ErrInvalidPath
	}
	if strings.Contains(name, separator) {
		return nil, errors.Wrapf(ErrInvalidPath, "%s is not a name under the root", path)
	}
	return []string{name}, nil
}
