package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/park285/bards-gambit/internal/domain"
)

func offlineEnv(t *testing.T) {
	t.Helper()
	t.Setenv("EVAL_BACKEND", "none")
	t.Setenv("AI_PROVIDER", "ollama")
	t.Setenv("NARRATIVE_MODE", "analysis")
	t.Setenv("LOG_TO_FILE", "false")
	for _, key := range []string{"DEFAULT_THEME", "THEMES_DIR", "REDIS_URL", "DATABASE_URL", "GAMES_FILE"} {
		t.Setenv(key, "")
	}
}

func TestRunListsThemes(t *testing.T) {
	offlineEnv(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-themes"}, strings.NewReader(""), &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "medieval_kingdom") {
		t.Fatalf("theme list missing medieval_kingdom:\n%s", stdout.String())
	}
}

func TestRunAnnotatesStdin(t *testing.T) {
	offlineEnv(t)
	var stdout, stderr bytes.Buffer
	code := run([]string{"-annotate"}, strings.NewReader("1. e4 d5 2. exd5"), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	var moves []domain.AnnotatedMove
	if err := json.Unmarshal(stdout.Bytes(), &moves); err != nil {
		t.Fatalf("decode %s: %v", stdout.String(), err)
	}
	if len(moves) != 3 || moves[2].Tag != domain.TagCapture {
		t.Fatalf("unexpected annotations: %+v", moves)
	}
}

func TestRunFailuresReturnExitCode(t *testing.T) {
	offlineEnv(t)
	cases := []struct {
		args  []string
		input string
		want  string
	}{
		{[]string{}, "this is not chess", "no moves were found in stdin"},
		{[]string{"-theme", "western"}, "1. e4 e5", "Theme 'western' not found."},
		{[]string{"/nonexistent/game.pgn"}, "", "read pgn"},
	}
	for _, tc := range cases {
		var stdout, stderr bytes.Buffer
		if code := run(tc.args, strings.NewReader(tc.input), &stdout, &stderr); code != 1 {
			t.Fatalf("%v: exit %d, want 1", tc.args, code)
		}
		if !strings.Contains(stderr.String(), tc.want) {
			t.Fatalf("%v: stderr %q does not mention %q", tc.args, stderr.String(), tc.want)
		}
	}
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-nope"}, strings.NewReader(""), &stdout, &stderr); code != 2 {
		t.Fatalf("exit %d, want 2", code)
	}
}
