package vm

import "strings"

// TypePath is a slash-separated type name such as "/obj/item".
type TypePath string

const (
	PathRoot  TypePath = "/"
	PathAtom  TypePath = "/atom"
	PathList  TypePath = "/list"
	PathDatum TypePath = "/datum"
)

// Parent returns the syntactic parent of p. The parent of a top-level type
// is the root, and the root is its own parent.
func (p TypePath) Parent() TypePath {
	if p == PathRoot || p == "" {
		return PathRoot
	}
	i := strings.LastIndexByte(string(p), '/')
	if i <= 0 {
		return PathRoot
	}
	return p[:i]
}

// Join appends a child segment.
func (p TypePath) Join(name string) TypePath {
	if p == PathRoot {
		return TypePath("/" + name)
	}
	return TypePath(string(p) + "/" + name)
}

// Name returns the final segment of p.
func (p TypePath) Name() string {
	i := strings.LastIndexByte(string(p), '/')
	return string(p[i+1:])
}

func (p TypePath) String() string {
	return string(p)
}
