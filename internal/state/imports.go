package state

import (
	"fmt"
	"strings"
)

// importSet deduplicates use statements by the name they bind. A later use
// of the same binding name replaces the earlier one, so re-importing a name
// from a different path never produces a conflicting-import error.
type importSet struct {
	order     []string
	byBinding map[string]string
}

func newImportSet() *importSet {
	return &importSet{byBinding: map[string]string{}}
}

func (im *importSet) clone() *importSet {
	out := &importSet{
		order:     append([]string(nil), im.order...),
		byBinding: make(map[string]string, len(im.byBinding)),
	}
	for k, v := range im.byBinding {
		out.byBinding[k] = v
	}
	return out
}

// add expands a use statement's brace groups into individual paths and
// records each under its binding name.
func (im *importSet) add(stmt string) error {
	paths, err := expandUseTree(stmt)
	if err != nil {
		return err
	}
	for _, p := range paths {
		binding := p.binding()
		if _, exists := im.byBinding[binding]; !exists {
			im.order = append(im.order, binding)
		}
		im.byBinding[binding] = p.render()
	}
	return nil
}

// statements returns one use statement per binding, in first-seen order.
func (im *importSet) statements() []string {
	out := make([]string, 0, len(im.order))
	for _, binding := range im.order {
		out = append(out, im.byBinding[binding])
	}
	return out
}

// usePath is one expanded import: a path plus an optional rename.
type usePath struct {
	segments []string
	alias    string
}

func (p usePath) binding() string {
	if p.alias != "" {
		return p.alias
	}
	last := p.segments[len(p.segments)-1]
	if last == "*" {
		// glob imports are deduplicated by their full path instead
		return strings.Join(p.segments, "::")
	}
	return last
}

func (p usePath) render() string {
	s := "use " + strings.Join(p.segments, "::")
	if p.alias != "" {
		s += " as " + p.alias
	}
	return s + ";"
}

// expandUseTree parses `use a::b::{c, d as e, f::*};` into flat paths.
func expandUseTree(stmt string) ([]usePath, error) {
	body := strings.TrimSpace(stmt)
	body = strings.TrimPrefix(body, "pub ")
	body = strings.TrimSpace(strings.TrimPrefix(body, "use"))
	body = strings.TrimSuffix(strings.TrimSpace(body), ";")
	paths, err := expandTree(body)
	if err != nil {
		return nil, fmt.Errorf("cannot parse %q: %w", strings.TrimSpace(stmt), err)
	}
	return paths, nil
}

func expandTree(tree string) ([]usePath, error) {
	tree = strings.TrimSpace(tree)
	if tree == "" {
		return nil, fmt.Errorf("empty import path")
	}
	if open := strings.IndexByte(tree, '{'); open >= 0 {
		if !strings.HasSuffix(tree, "}") {
			return nil, fmt.Errorf("unbalanced brace group")
		}
		prefix := strings.TrimSuffix(strings.TrimSpace(tree[:open]), "::")
		var prefixSegs []string
		if prefix != "" {
			prefixSegs = splitPath(prefix)
		}
		var out []usePath
		for _, part := range splitTopLevel(tree[open+1 : len(tree)-1]) {
			sub, err := expandTree(part)
			if err != nil {
				return nil, err
			}
			for _, p := range sub {
				p.segments = append(append([]string(nil), prefixSegs...), p.segments...)
				// `self` inside a brace group names the prefix itself
				if n := len(p.segments); n > 1 && p.segments[n-1] == "self" {
					p.segments = p.segments[:n-1]
				}
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("empty brace group")
		}
		return out, nil
	}
	path := tree
	alias := ""
	if idx := strings.Index(tree, " as "); idx >= 0 {
		path = strings.TrimSpace(tree[:idx])
		alias = strings.TrimSpace(tree[idx+4:])
	}
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil, fmt.Errorf("empty import path")
	}
	return []usePath{{segments: segs, alias: alias}}, nil
}

func splitPath(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "::") {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// splitTopLevel splits on commas not nested inside inner brace groups.
func splitTopLevel(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
		case ',':
			if depth == 0 {
				if part := strings.TrimSpace(s[start:i]); part != "" {
					out = append(out, part)
				}
				start = i + 1
			}
		}
	}
	if part := strings.TrimSpace(s[start:]); part != "" {
		out = append(out, part)
	}
	return out
}
