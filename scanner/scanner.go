// Package scanner implements the recursive directory enumeration used by
// the server's file tracker (spec.md §4.3): given a root and an include
// regex, find every regular file beneath it (skipping dotfiles), and report
// what's new or gone since the previous scan. A symlink to a regular file
// is included under the link's path; a symlink to a directory is not
// descended into.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package scanner

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/golang/glog"
)

// Scanner walks Root on each call to Scan, filtering basenames against
// Include. It remembers the set of paths seen on the previous call so it
// can report Added/Removed deltas as well as the full Present set.
type Scanner struct {
	Root    string
	Include *regexp.Regexp

	prev map[string]struct{}
}

// Result is the outcome of one Scan call.
type Result struct {
	Present []string // every matching path present now
	Added   []string // present now, absent on the previous scan
	Removed []string // present on the previous scan, absent now
}

func New(root string, include *regexp.Regexp) *Scanner {
	if include == nil {
		include = regexp.MustCompile(".*")
	}
	return &Scanner{Root: root, Include: include, prev: map[string]struct{}{}}
}

// Scan walks the tree once and returns the present/added/removed sets
// relative to the previous call (the very first call reports everything
// found as Added).
func (s *Scanner) Scan() (Result, error) {
	cur := map[string]struct{}{}

	err := filepath.Walk(s.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			glog.Warningf("scanner: %s: %v", path, err)
			return nil
		}
		base := info.Name()
		if strings.HasPrefix(base, ".") && path != s.Root {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(path)
			if err != nil {
				glog.Warningf("scanner: unresolved symlink %s: %v", path, err)
				return nil
			}
			fi, err := os.Stat(resolved)
			if err != nil || !fi.Mode().IsRegular() {
				return nil
			}
		} else if !info.Mode().IsRegular() {
			return nil
		}
		if !s.Include.MatchString(base) {
			return nil
		}
		cur[path] = struct{}{}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	var res Result
	for p := range cur {
		res.Present = append(res.Present, p)
		if _, ok := s.prev[p]; !ok {
			res.Added = append(res.Added, p)
		}
	}
	for p := range s.prev {
		if _, ok := cur[p]; !ok {
			res.Removed = append(res.Removed, p)
		}
	}
	s.prev = cur
	return res, nil
}
