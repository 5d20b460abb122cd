// Package bpath canonicalizes user-supplied paths into a normal form with
// no "." or ".." components and no repeated slashes, the way the teacher's
// fd.Cwd_t expects from a sibling "bpath" package it imports but does not
// ship a body for in the retrieval pack.
package bpath

import "github.com/chronix-os/chronix/internal/ustr"

// Canonicalize resolves "." and ".." components of p against an implicit
// root and collapses repeated slashes. It does not touch the filesystem;
// ".." above the root simply stays at the root, matching shell "cd"
// semantics rather than symlink-aware realpath semantics.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	parts := Split(p)
	stack := make([]ustr.Ustr, 0, len(parts))
	for _, part := range parts {
		switch {
		case len(part) == 0:
			continue
		case part.Isdot():
			continue
		case part.Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}
	if len(stack) == 0 {
		return ustr.MkUstrRoot()
	}
	ret := make(ustr.Ustr, 0, len(p))
	for _, part := range stack {
		ret = append(ret, '/')
		ret = append(ret, part...)
	}
	return ret
}

// Split breaks a path into its slash-separated components, discarding empty
// components produced by leading, trailing, or repeated slashes.
func Split(p ustr.Ustr) []ustr.Ustr {
	var parts []ustr.Ustr
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				parts = append(parts, p[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

// Dir returns all but the last path component.
func Dir(p ustr.Ustr) ustr.Ustr {
	parts := Split(p)
	if len(parts) <= 1 {
		return ustr.MkUstrRoot()
	}
	return Canonicalize(join(parts[:len(parts)-1]))
}

// Base returns the last path component.
func Base(p ustr.Ustr) ustr.Ustr {
	parts := Split(p)
	if len(parts) == 0 {
		return ustr.MkUstrRoot()
	}
	return parts[len(parts)-1]
}

func join(parts []ustr.Ustr) ustr.Ustr {
	ret := ustr.MkUstr()
	for _, part := range parts {
		ret = append(ret, '/')
		ret = append(ret, part...)
	}
	return ret
}
