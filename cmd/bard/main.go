package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/park285/bards-gambit/internal/builder"
	"github.com/park285/bards-gambit/internal/chess"
	appcfg "github.com/park285/bards-gambit/internal/config"
	"github.com/park285/bards-gambit/internal/narrative"
	"github.com/park285/bards-gambit/internal/obslog"
	"go.uber.org/zap"
)

// bard narrates or annotates a PGN file from the command line.
//
//	bard [-theme name] [-annotate] game.pgn
//	bard -themes
func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run returns the process exit code so deferred cleanup always happens.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bard", flag.ContinueOnError)
	fs.SetOutput(stderr)
	theme := fs.String("theme", "", "theme name (default: DEFAULT_THEME)")
	annotateOnly := fs.Bool("annotate", false, "print move annotations as JSON instead of a story")
	listThemes := fs.Bool("themes", false, "list available themes")
	timeout := fs.Duration("timeout", 2*time.Minute, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := obslog.InitFromEnv(); err != nil {
		fmt.Fprintf(stderr, "logger init error: %v\n", err)
		return 1
	}
	defer obslog.Sync()

	cfg, err := appcfg.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	deps, err := builder.New(ctx, cfg, obslog.L())
	if err != nil {
		fmt.Fprintf(stderr, "init error: %v\n", err)
		return 1
	}
	defer func() {
		if err := deps.Close(); err != nil {
			obslog.L().Warn("close deps", zap.Error(err))
		}
	}()

	if *listThemes {
		for _, th := range deps.Themes.List() {
			fmt.Fprintf(stdout, "%-20s %s\n", th.Name, th.Title)
		}
		return 0
	}

	raw, name, err := readInput(fs.Arg(0), stdin)
	if err != nil {
		fmt.Fprintf(stderr, "read pgn: %v\n", err)
		return 1
	}
	game, err := chess.ParseGame(string(raw))
	if err != nil {
		fmt.Fprintf(stderr, "Could not generate a story because no moves were found in %s: %v\n", name, err)
		return 1
	}

	if *annotateOnly {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(deps.Assembler.Annotate(ctx, game.Moves)); err != nil {
			fmt.Fprintf(stderr, "encode: %v\n", err)
			return 1
		}
		return 0
	}

	if *theme == "" {
		*theme = deps.DefaultTheme
	}
	fmt.Fprintf(stderr, "Generating %s story for %s (%d moves)...\n", *theme, name, len(game.Moves))
	res := deps.Assembler.Story(ctx, game.Moves, *theme, narrative.GameMeta{
		Opening: game.Opening,
		Event:   game.Tag("Event"),
		White:   game.Tag("White"),
		Black:   game.Tag("Black"),
	})
	if !res.OK() {
		fmt.Fprintln(stderr, res.Error)
		return 1
	}
	fmt.Fprintln(stdout, res.Story)
	return 0
}

// readInput reads the named file, or stdin when path is empty or "-".
func readInput(path string, stdin io.Reader) ([]byte, string, error) {
	if path == "" || path == "-" {
		b, err := io.ReadAll(stdin)
		return b, "stdin", err
	}
	b, err := os.ReadFile(path)
	return b, path, err
}
