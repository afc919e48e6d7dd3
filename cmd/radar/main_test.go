package main

import (
	"strings"
	"testing"
)

func TestCommandsRegistered(t *testing.T) {
	want := []string{"init", "version", "status", "poll", "monitor", "serve", "signals", "sources"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("expected command %q to be registered", name)
		}
	}
	for _, sub := range []string{"list", "add", "remove"} {
		cmd, _, err := rootCmd.Find([]string{"sources", sub})
		if err != nil || cmd.Name() != sub {
			t.Errorf("expected sources %s to be registered", sub)
		}
	}
}

func TestSearchFlagDescribesSearchedColumns(t *testing.T) {
	flag := signalsCmd.Flags().Lookup("search")
	if flag == nil {
		t.Fatal("expected --search flag")
	}
	if strings.Contains(flag.Usage, "snippet") {
		t.Errorf("search matches title and label only, usage says %q", flag.Usage)
	}
	if !strings.Contains(flag.Usage, "title and label") {
		t.Errorf("unexpected usage %q", flag.Usage)
	}
}
