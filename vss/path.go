package vss

import "strings"

// Path is a parsed, normalised dotted VSS path as described in spec.md
// §4.1. Both syntactic dialects ("Gen1" dotted names, "Gen2" schema
// envelopes) collapse to this same token sequence before any tree
// resolution happens.
type Path struct {
	tokens []string
}

func isPathChar(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z':
		return true
	case 'a' <= c && c <= 'z':
		return true
	case '0' <= c && c <= '9':
		return true
	case c == '_' || c == '*':
		return true
	default:
		return false
	}
}

// ParsePath tokenises str on '.', rejecting empty segments and characters
// outside [A-Za-z0-9_*].
func ParsePath(str string) (Path, error) {
	if str == "" {
		return Path{}, newError(KindMalformedPath, "empty path")
	}
	segments := strings.Split(str, ".")
	tokens := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			return Path{}, newError(KindMalformedPath, "empty segment in %q", str)
		}
		for i := 0; i < len(seg); i++ {
			if !isPathChar(seg[i]) {
				return Path{}, newError(KindMalformedPath, "invalid character in %q", str)
			}
		}
		tokens = append(tokens, seg)
	}
	return Path{tokens: tokens}, nil
}

// MustParsePath is for call sites building paths from known-good literals
// (e.g. tests, init-time constants); it panics on a malformed literal.
func MustParsePath(str string) Path {
	p, err := ParsePath(str)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) Tokens() []string {
	return p.tokens
}

func (p Path) IsWildcard() bool {
	for _, t := range p.tokens {
		if t == "*" {
			return true
		}
	}
	return false
}

func (p Path) Len() int {
	return len(p.tokens)
}

func (p Path) Head() string {
	return p.tokens[0]
}

func (p Path) Tail() Path {
	return Path{tokens: p.tokens[1:]}
}

func (p Path) Last() string {
	return p.tokens[len(p.tokens)-1]
}

// Append returns a new Path with name appended, used while walking the
// tree to build up a leaf's canonical path.
func (p Path) Append(name string) Path {
	tokens := make([]string, len(p.tokens)+1)
	copy(tokens, p.tokens)
	tokens[len(p.tokens)] = name
	return Path{tokens: tokens}
}

func (p Path) String() string {
	return strings.Join(p.tokens, ".")
}

func (p Path) Equal(other Path) bool {
	if len(p.tokens) != len(other.tokens) {
		return false
	}
	for i := range p.tokens {
		if p.tokens[i] != other.tokens[i] {
			return false
		}
	}
	return true
}
