// Package ref parses and resolves entity reference pointers. A pointer
// names a stored record by permanent id and walks into its attributes:
//
//	@7d44…c1b2.samples[2]["depth"]
//
// Segments are field access (.name), list indexing ([3]) and map lookup
// (["key"] or ['key']). A step that lands on an entity reference continues
// into the referenced record, pinned to the graph version that contains the
// referencing record.
package ref

import (
	"fmt"
	"strconv"
	"strings"

	"entitygraph/pkg/domain"
)

// SegmentKind discriminates the parsed path segment variants.
type SegmentKind string

const (
	SegmentField SegmentKind = "field"
	SegmentIndex SegmentKind = "index"
	SegmentKey   SegmentKind = "key"
)

// Segment is one parsed step of a pointer path.
type Segment struct {
	Kind  SegmentKind
	Field string
	Index int
	Key   string
}

// Parse splits a pointer into the addressed permanent id and its path
// segments. Errors carry the byte position of the offending input.
func Parse(pointer string) (domain.PermanentID, []Segment, error) {
	if pointer == "" {
		return domain.PermanentID{}, nil, domain.MalformedReferenceError{Pointer: pointer, Position: 0, Reason: "empty pointer"}
	}
	if pointer[0] != '@' {
		return domain.PermanentID{}, nil, domain.MalformedReferenceError{Pointer: pointer, Position: 0, Reason: "pointer must start with '@'"}
	}
	idEnd := 1
	for idEnd < len(pointer) && isIDChar(pointer[idEnd]) {
		idEnd++
	}
	id, err := domain.ParsePermanentID(pointer[1:idEnd])
	if err != nil {
		return domain.PermanentID{}, nil, domain.MalformedReferenceError{Pointer: pointer, Position: 1, Reason: "invalid permanent id"}
	}

	var segments []Segment
	pos := idEnd
	for pos < len(pointer) {
		switch pointer[pos] {
		case '.':
			field, next, err := parseField(pointer, pos+1)
			if err != nil {
				return domain.PermanentID{}, nil, err
			}
			segments = append(segments, Segment{Kind: SegmentField, Field: field})
			pos = next
		case '[':
			seg, next, err := parseBracket(pointer, pos)
			if err != nil {
				return domain.PermanentID{}, nil, err
			}
			segments = append(segments, seg)
			pos = next
		default:
			return domain.PermanentID{}, nil, domain.MalformedReferenceError{
				Pointer:  pointer,
				Position: pos,
				Reason:   fmt.Sprintf("unexpected character %q", pointer[pos]),
			}
		}
	}
	return id, segments, nil
}

func parseField(pointer string, start int) (string, int, error) {
	pos := start
	for pos < len(pointer) && isFieldChar(pointer[pos]) {
		pos++
	}
	if pos == start {
		return "", 0, domain.MalformedReferenceError{Pointer: pointer, Position: start, Reason: "empty field name"}
	}
	return pointer[start:pos], pos, nil
}

func parseBracket(pointer string, start int) (Segment, int, error) {
	pos := start + 1
	if pos >= len(pointer) {
		return Segment{}, 0, domain.MalformedReferenceError{Pointer: pointer, Position: start, Reason: "unterminated '['"}
	}
	if q := pointer[pos]; q == '"' || q == '\'' {
		key, next, err := parseQuoted(pointer, pos)
		if err != nil {
			return Segment{}, 0, err
		}
		if next >= len(pointer) || pointer[next] != ']' {
			return Segment{}, 0, domain.MalformedReferenceError{Pointer: pointer, Position: next, Reason: "missing ']' after key"}
		}
		return Segment{Kind: SegmentKey, Key: key}, next + 1, nil
	}
	end := pos
	if end < len(pointer) && pointer[end] == '-' {
		end++
	}
	for end < len(pointer) && pointer[end] >= '0' && pointer[end] <= '9' {
		end++
	}
	if end == pos || (pointer[pos] == '-' && end == pos+1) {
		return Segment{}, 0, domain.MalformedReferenceError{Pointer: pointer, Position: pos, Reason: "expected index or quoted key"}
	}
	if end >= len(pointer) || pointer[end] != ']' {
		return Segment{}, 0, domain.MalformedReferenceError{Pointer: pointer, Position: end, Reason: "missing ']' after index"}
	}
	index, err := strconv.Atoi(pointer[pos:end])
	if err != nil {
		return Segment{}, 0, domain.MalformedReferenceError{Pointer: pointer, Position: pos, Reason: "invalid index"}
	}
	return Segment{Kind: SegmentIndex, Index: index}, end + 1, nil
}

func parseQuoted(pointer string, start int) (string, int, error) {
	quote := pointer[start]
	var b strings.Builder
	pos := start + 1
	for pos < len(pointer) {
		c := pointer[pos]
		switch c {
		case quote:
			return b.String(), pos + 1, nil
		case '\\':
			if pos+1 >= len(pointer) {
				return "", 0, domain.MalformedReferenceError{Pointer: pointer, Position: pos, Reason: "dangling escape"}
			}
			b.WriteByte(pointer[pos+1])
			pos += 2
		default:
			b.WriteByte(c)
			pos++
		}
	}
	return "", 0, domain.MalformedReferenceError{Pointer: pointer, Position: start, Reason: "unterminated key"}
}

func isFieldChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-':
		return true
	}
	return false
}

func isIDChar(c byte) bool {
	switch {
	case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		return true
	case c == '-':
		return true
	}
	return false
}
