package document

import (
	"fmt"
	"strconv"
	"strings"
)

// PathError reports a path segment that cannot be traversed or created
// because the value in the way is not a container.
type PathError struct {
	Path    string
	Segment string
	Found   string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("path %q: cannot traverse %s at %q", e.Path, e.Found, e.Segment)
}

// SplitPath splits a dot-separated field path into segments.
func SplitPath(path string) []string {
	return strings.Split(path, ".")
}

// ValidPath reports whether every segment of path is non-empty.
func ValidPath(path string) bool {
	if path == "" {
		return false
	}
	for _, seg := range SplitPath(path) {
		if seg == "" {
			return false
		}
	}
	return true
}

func arrayIndex(seg string) (int, bool) {
	if seg == "" || (len(seg) > 1 && seg[0] == '0') {
		return 0, false
	}
	n, err := strconv.Atoi(seg)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Lookup returns the value at path. The second result is false when any
// segment is absent; a present null returns (Null{}, true).
func Lookup(root Value, path string) (Value, bool) {
	cur := root
	for _, seg := range SplitPath(path) {
		switch node := cur.(type) {
		case Object:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case Array:
			idx, ok := arrayIndex(seg)
			if !ok || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// SetPath stores v at path inside root, creating missing intermediate
// objects. Numeric segments index into existing arrays; writing past the end
// pads with nulls. Traversing through a scalar or null is a PathError.
func SetPath(root Object, path string, v Value) error {
	_, err := setIn(root, SplitPath(path), path, v)
	return err
}

func setIn(cur Value, segs []string, path string, v Value) (Value, error) {
	seg := segs[0]
	last := len(segs) == 1

	switch node := cur.(type) {
	case Object:
		if last {
			node[seg] = v
			return node, nil
		}
		child, ok := node[seg]
		if !ok {
			child = Object{}
		}
		updated, err := setIn(child, segs[1:], path, v)
		if err != nil {
			return nil, err
		}
		node[seg] = updated
		return node, nil
	case Array:
		idx, ok := arrayIndex(seg)
		if !ok {
			return nil, &PathError{Path: path, Segment: seg, Found: "array"}
		}
		for len(node) <= idx {
			node = append(node, Null{})
		}
		if last {
			node[idx] = v
			return node, nil
		}
		child := node[idx]
		if IsNull(child) {
			child = Object{}
		}
		updated, err := setIn(child, segs[1:], path, v)
		if err != nil {
			return nil, err
		}
		node[idx] = updated
		return node, nil
	default:
		return nil, &PathError{Path: path, Segment: seg, Found: TypeName(cur)}
	}
}

// DeletePath removes the value at path. Removing an array element sets it
// to null so positions of later elements are preserved. Missing
// intermediate containers make this a no-op. Reports whether anything
// was removed.
func DeletePath(root Object, path string) bool {
	segs := SplitPath(path)
	parent, ok := Value(root), true
	if len(segs) > 1 {
		parent, ok = Lookup(root, strings.Join(segs[:len(segs)-1], "."))
		if !ok {
			return false
		}
	}
	leaf := segs[len(segs)-1]
	switch node := parent.(type) {
	case Object:
		if _, ok := node[leaf]; !ok {
			return false
		}
		delete(node, leaf)
		return true
	case Array:
		idx, ok := arrayIndex(leaf)
		if !ok || idx >= len(node) {
			return false
		}
		node[idx] = Null{}
		return true
	}
	return false
}
