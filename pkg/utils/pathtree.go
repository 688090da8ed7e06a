package utils

import (
	"path"
	"sort"
	"strings"
)

// PathTree is a nested directory plan. A nil child marks a leaf.
type PathTree map[string]PathTree

// splitPath turns "/a/b/c" into ["a","b","c"], dropping empty segments.
func splitPath(p string) []string {
	var keys []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			keys = append(keys, seg)
		}
	}
	return keys
}

// Update adds a slash-separated path, creating intermediate nodes as needed.
// The final segment becomes a leaf unless it already has children.
func (t PathTree) Update(p string) {
	t.UpdateKeys(splitPath(p)...)
}

// UpdateKeys is Update with pre-split keys.
func (t PathTree) UpdateKeys(keys ...string) {
	node := t
	for i, k := range keys {
		child, exists := node[k]
		if i == len(keys)-1 {
			if !exists {
				node[k] = nil
			}
			return
		}
		if child == nil {
			child = PathTree{}
			node[k] = child
		}
		node = child
	}
}

// Delete walks the keys and removes the final key from its parent.
// Deleting with no keys clears the whole tree.
// Returns false if any key on the way is missing.
func (t PathTree) Delete(keys ...string) bool {
	if len(keys) == 0 {
		for k := range t {
			delete(t, k)
		}
		return true
	}
	node := t
	for _, k := range keys[:len(keys)-1] {
		child, ok := node[k]
		if !ok || child == nil {
			return false
		}
		node = child
	}
	last := keys[len(keys)-1]
	if _, ok := node[last]; !ok {
		return false
	}
	delete(node, last)
	return true
}

// DeletePath is Delete with a slash-separated path. "/" clears the tree.
func (t PathTree) DeletePath(p string) bool {
	return t.Delete(splitPath(p)...)
}

// Has reports whether the key path exists.
func (t PathTree) Has(keys ...string) bool {
	node := t
	for i, k := range keys {
		child, ok := node[k]
		if !ok {
			return false
		}
		if i < len(keys)-1 && child == nil {
			return false
		}
		node = child
	}
	return true
}

// Leaves returns every root-to-leaf path joined with "/", sorted.
func (t PathTree) Leaves() []string {
	var out []string
	var walk func(prefix string, node PathTree)
	walk = func(prefix string, node PathTree) {
		for k, child := range node {
			p := path.Join(prefix, k)
			if len(child) == 0 {
				out = append(out, p)
				continue
			}
			walk(p, child)
		}
	}
	walk("", t)
	sort.Strings(out)
	return out
}
