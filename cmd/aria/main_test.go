package main

import (
	"errors"
	"testing"
)

func TestRootCommandTree(t *testing.T) {
	root := buildRootCmd()

	want := []string{"serve", "status", "session", "agent", "breaker"}
	for _, name := range want {
		found := false
		for _, cmd := range root.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing %q subcommand", name)
		}
	}
}

func TestIsUsageError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New(`unknown command "frobnicate" for "aria"`), true},
		{errors.New("unknown flag: --bogus"), true},
		{errors.New("accepts 1 arg(s), received 0"), true},
		{errors.New("admin api unreachable: connection refused"), false},
		{errors.New("failed to load config: file missing"), false},
	}
	for _, tc := range cases {
		if got := isUsageError(tc.err); got != tc.want {
			t.Errorf("isUsageError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("ARIA_CONFIG", "")
	if got := defaultConfigPath(); got != "aria.yaml" {
		t.Errorf("default = %q", got)
	}
	t.Setenv("ARIA_CONFIG", "/etc/aria/aria.yaml")
	if got := defaultConfigPath(); got != "/etc/aria/aria.yaml" {
		t.Errorf("env path = %q", got)
	}
}
