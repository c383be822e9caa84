package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestCLIHelp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		args  []string
		wants []string
	}{
		{
			name:  "root_help",
			args:  []string{"--help"},
			wants: []string{"backfill", "refresh-profiles", "build-map", "simulate", "version", "--config"},
		},
		{
			name:  "backfill_help",
			args:  []string{"backfill", "--help"},
			wants: []string{"--room", "--limit", "embeddings"},
		},
		{
			name:  "simulate_help",
			args:  []string{"simulate", "--help"},
			wants: []string{"--sender", "--receiver", "/swap"},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			output, err := runRootCommandForTest(tc.args...)
			if err != nil {
				t.Fatalf("execute command %v: %v\nOutput:\n%s", tc.args, err, output)
			}
			for _, want := range tc.wants {
				if !strings.Contains(output, want) {
					t.Errorf("help output for %v missing %q\nOutput:\n%s", tc.args, want, output)
				}
			}
		})
	}
}

func TestRootCommandWithoutSubcommandFails(t *testing.T) {
	t.Parallel()

	output, err := runRootCommandForTest()
	if err == nil {
		t.Fatalf("expected error when no subcommand given\nOutput:\n%s", output)
	}
}

func runRootCommandForTest(args ...string) (string, error) {
	root := buildRootCommand()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}
