package main

import (
	"reflect"
	"testing"
)

func TestExpandBraces(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"plainhost", []string{"plainhost"}},
		{"host{1,2}.example.com", []string{"host1.example.com", "host2.example.com"}},
		{"{a,b,c}", []string{"a", "b", "c"}},
		{"pre{x}post", []string{"prexpost"}},
	}
	for _, c := range cases {
		got := expandBraces(c.in)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("expandBraces(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestExpandHostsFlattens(t *testing.T) {
	got := expandHosts([]string{"a{1,2}", "b"})
	want := []string{"a1", "a2", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
