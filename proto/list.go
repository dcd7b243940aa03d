package proto

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ListEntry is one path's entry in a list payload (spec.md §4.2): a
// mapping from relative path to {s: size, c?: hash}. Size -1 denotes
// deletion (a tombstone).
type ListEntry struct {
	Size int64
	Hash string // "" if not advertised
}

const TombstoneSize = -1

// EncodeList renders a path->entry mapping as the minimal-JSON list
// payload that follows an `l`/`lp` header.
func EncodeList(entries map[string]ListEntry) []byte {
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, p := range paths {
		if i > 0 {
			sb.WriteByte(',')
		}
		e := entries[p]
		sb.WriteString(EncodeString(p))
		sb.WriteByte(':')
		sb.WriteByte('{')
		sb.WriteString(`"s":`)
		sb.WriteString(EncodeString(strconv.FormatInt(e.Size, 10)))
		if e.Hash != "" {
			sb.WriteString(`,"c":`)
			sb.WriteString(EncodeString(e.Hash))
		}
		sb.WriteByte('}')
	}
	sb.WriteByte('}')
	return []byte(sb.String())
}

// DecodeList parses a list payload into a path->entry mapping.
func DecodeList(b []byte) (map[string]ListEntry, error) {
	v, _, err := ParseValue(b)
	if err != nil {
		return nil, err
	}
	obj, ok := AsObject(v)
	if !ok {
		return nil, fmt.Errorf("proto: list payload is not an object")
	}
	out := make(map[string]ListEntry, len(obj))
	for path, raw := range obj {
		entryObj, ok := AsObject(raw)
		if !ok {
			return nil, fmt.Errorf("proto: list entry for %q is not an object", path)
		}
		sizeStr, ok := AsString(entryObj["s"])
		if !ok {
			return nil, fmt.Errorf("proto: list entry for %q missing 's'", path)
		}
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("proto: list entry for %q has bad size %q: %w", path, sizeStr, err)
		}
		entry := ListEntry{Size: size}
		if h, ok := AsString(entryObj["c"]); ok {
			entry.Hash = h
		}
		out[path] = entry
	}
	return out, nil
}
