// domain/paths.go
package domain

import (
	"fmt"
	"strings"
)

// SubtreeEnd is the upper bound sentinel of a materialized-path prefix scan.
const SubtreeEnd = "\uf8ff"

// NormalizeFolderPath returns a path that starts with '/', has no empty
// segments and no trailing slash. An empty path maps to DefaultFolder.
func NormalizeFolderPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || path == "/" {
		return DefaultFolder
	}
	parts := strings.Split(path, "/")
	segs := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			segs = append(segs, p)
		}
	}
	if len(segs) == 0 {
		return DefaultFolder
	}
	return "/" + strings.Join(segs, "/")
}

// ValidateFolderPath rejects paths that would break the materialized-path
// range scan.
func ValidateFolderPath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: folder path %q must start with /", ErrValidation, path)
	}
	if strings.Contains(path, SubtreeEnd) {
		return fmt.Errorf("%w: folder path %q contains a reserved character", ErrValidation, path)
	}
	return nil
}

func PathSegments(path string) []string {
	return strings.Split(strings.TrimPrefix(path, "/"), "/")
}

func FolderLevel(path string) int {
	return len(PathSegments(path)) - 1
}

func FolderName(path string) string {
	segs := PathSegments(path)
	return segs[len(segs)-1]
}

// ParentPath drops the last segment. Root-level folders have no parent.
func ParentPath(path string) *string {
	segs := PathSegments(path)
	if len(segs) <= 1 {
		return nil
	}
	parent := "/" + strings.Join(segs[:len(segs)-1], "/")
	return &parent
}

// JoinFolderPath builds a child path under parent ("" or "/" for root).
func JoinFolderPath(parent, name string) string {
	parent = strings.TrimSpace(parent)
	if parent == "" || parent == "/" {
		return NormalizeFolderPath("/" + name)
	}
	return NormalizeFolderPath(parent + "/" + name)
}

// InSubtree reports whether path equals root or lies in the
// [root+"/", root+"/"+SubtreeEnd] range.
func InSubtree(path, root string) bool {
	if path == root {
		return true
	}
	lo, hi := SubtreeRange(root)
	return path >= lo && path <= hi
}

func SubtreeRange(root string) (lo, hi string) {
	return root + "/", root + "/" + SubtreeEnd
}

// NewFolder fills the derived fields of a folder from its path.
func NewFolder(id, path, ownerID string) *Folder {
	return &Folder{
		ID:         id,
		Name:       FolderName(path),
		Path:       path,
		Level:      FolderLevel(path),
		ParentPath: ParentPath(path),
		OwnerID:    ownerID,
	}
}
