package main

import "strings"

// expandBraces implements the positional-argument brace permutation of
// spec.md §6: "each argument is expanded through shell-glob-style brace
// permutation", e.g. "host{1,2}.example.com" -> ["host1.example.com",
// "host2.example.com"]. Only a single, non-nested {a,b,c} group per
// argument is supported - enough for the host-list shorthand this flag
// exists for, and simple enough to stay a self-contained string utility
// rather than a general shell-glob implementation.
func expandBraces(arg string) []string {
	open := strings.IndexByte(arg, '{')
	if open < 0 {
		return []string{arg}
	}
	closeIdx := strings.IndexByte(arg[open:], '}')
	if closeIdx < 0 {
		return []string{arg}
	}
	closeIdx += open

	prefix := arg[:open]
	suffix := arg[closeIdx+1:]
	alts := strings.Split(arg[open+1:closeIdx], ",")

	out := make([]string, 0, len(alts))
	for _, alt := range alts {
		out = append(out, prefix+alt+suffix)
	}
	return out
}

// expandHosts applies expandBraces to every argument, in order,
// flattening the results.
func expandHosts(args []string) []string {
	var out []string
	for _, a := range args {
		out = append(out, expandBraces(a)...)
	}
	return out
}
