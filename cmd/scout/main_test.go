package main

import (
	"testing"
)

func TestSortedKeys(t *testing.T) {
	got := sortedKeys(map[string]int{"serp": 1, "crossref": 3, "groundedweb": 2})
	want := []string{"crossref", "groundedweb", "serp"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"research", "compile", "validate"} {
		if !names[want] {
			t.Fatalf("subcommand %q not registered", want)
		}
	}
}
