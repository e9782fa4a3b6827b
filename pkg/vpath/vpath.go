// Package vpath implements POSIX-style virtual path handling for the FTP
// namespace. All paths handed to the VFS and the metadata store go through
// this package first: names are NFC-normalized, a leading "/" is forced and
// trailing slashes are stripped (except for the root itself).
package vpath

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Root is the virtual filesystem root.
const Root = "/"

// Normalize returns the canonical form of a virtual path: NFC Unicode,
// leading "/" forced, trailing "/" stripped except for root.
func Normalize(p string) string {
	p = norm.NFC.String(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}

// Split returns the parent directory and the leaf name of a path.
// Split("/a/b") = ("/a", "b"); Split("/a") = ("/", "a"); Split("/") = ("/", "").
func Split(p string) (parent, name string) {
	p = Normalize(p)
	if p == Root {
		return Root, ""
	}
	i := strings.LastIndexByte(p, '/')
	if i == 0 {
		return Root, p[1:]
	}
	return p[:i], p[i+1:]
}

// Join joins a parent directory with a leaf name.
func Join(parent, name string) string {
	parent = Normalize(parent)
	if name == "" {
		return parent
	}
	if parent == Root {
		return Root + name
	}
	return parent + "/" + name
}

// Base returns the leaf name of a path.
func Base(p string) string {
	_, name := Split(p)
	return name
}

// Dir returns the parent directory of a path.
func Dir(p string) string {
	parent, _ := Split(p)
	return parent
}

// Resolve makes input absolute against cwd and resolves "." and ".."
// segments lexically, clamping at root. Symlinks do not exist in the
// virtual namespace, so lexical resolution is exact.
func Resolve(cwd, input string) string {
	input = norm.NFC.String(input)
	if !strings.HasPrefix(input, "/") {
		cwd = Normalize(cwd)
		if cwd == Root {
			input = Root + input
		} else {
			input = cwd + "/" + input
		}
	}
	return resolveLexical(input)
}

// RealPath maps a resolved virtual path into a user's base directory.
// With the default base "/" the real path equals the virtual path. A
// virtual path can never escape the base because Resolve clamps ".."
// at root before the join.
func RealPath(base, virtual string) string {
	base = Normalize(base)
	virtual = Normalize(virtual)
	if base == Root {
		return virtual
	}
	if virtual == Root {
		return base
	}
	return base + virtual
}

// resolveLexical walks the segments of an absolute path, applying ".." and
// dropping "." and empty segments.
func resolveLexical(p string) string {
	segs := strings.Split(p, "/")
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		switch s {
		case "", ".":
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, s)
		}
	}
	return Root + strings.Join(out, "/")
}
