package narrative

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/park285/bards-gambit/internal/annotate"
	"github.com/park285/bards-gambit/internal/domain"
	"github.com/park285/bards-gambit/internal/themes"
	"go.uber.org/zap"
)

// GenerationFailedMessage is the only generation detail shown to callers.
const GenerationFailedMessage = "Failed to generate story from the AI."

var (
	ErrGeneration = errors.New("story generation failed")
	ErrEmptyStory = errors.New("generator returned empty text")
)

// Generator turns a prompt into prose.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Mode string

const (
	// ModeAnalysis annotates every move and feeds the verdicts into the prompt.
	ModeAnalysis Mode = "analysis"
	// ModePlain sends only the movetext.
	ModePlain Mode = "plain"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAnalysis:
		return ModeAnalysis, nil
	case ModePlain:
		return ModePlain, nil
	}
	return "", fmt.Errorf("unknown narrative mode %q", s)
}

// GameMeta is optional prompt context taken from PGN tags or the request.
type GameMeta struct {
	Opening string
	White   string
	Black   string
	Event   string
}

// Config wires an Assembler. Annotator is only required in analysis mode.
type Config struct {
	Themes    *themes.Table
	Generator Generator
	Annotator *annotate.Annotator
	// Evaluators may be nil; annotation then uses fallback tags only.
	Evaluators annotate.EvaluatorSource
	Mode       Mode
	Logger     *zap.Logger
}

// Assembler turns a parsed game into a themed story prompt and asks the generator for prose.
type Assembler struct {
	themes    *themes.Table
	gen       Generator
	annotator *annotate.Annotator
	source    annotate.EvaluatorSource
	mode      Mode
	logger    *zap.Logger
}

// New validates cfg. An empty Mode defaults to analysis.
func New(cfg Config) (*Assembler, error) {
	if cfg.Themes == nil {
		return nil, errors.New("theme table required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("generator required")
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeAnalysis
	}
	if mode == ModeAnalysis && cfg.Annotator == nil {
		return nil, errors.New("annotator required in analysis mode")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		themes:    cfg.Themes,
		gen:       cfg.Generator,
		annotator: cfg.Annotator,
		source:    cfg.Evaluators,
		mode:      mode,
		logger:    logger,
	}, nil
}

func (a *Assembler) Mode() Mode { return a.mode }

// Story narrates moves end to end: annotation (analysis mode only), then Narrate.
func (a *Assembler) Story(ctx context.Context, moves []domain.Move, theme string, meta GameMeta) domain.NarrativeResult {
	var annotated []domain.AnnotatedMove
	if a.mode == ModeAnalysis {
		if !a.themes.Has(theme) {
			return unknownTheme(theme)
		}
		annotated = a.Annotate(ctx, moves)
	}
	return a.Narrate(ctx, moves, annotated, theme, meta)
}

// Annotate tags moves with an evaluator reserved for this game. Evaluator failures only degrade tags.
func (a *Assembler) Annotate(ctx context.Context, moves []domain.Move) []domain.AnnotatedMove {
	if a.annotator == nil {
		out := make([]domain.AnnotatedMove, 0, len(moves))
		for _, m := range moves {
			out = append(out, domain.AnnotatedMove{MoveNumber: m.MoveNumber, Side: m.Side, SAN: m.SAN, Tag: domain.TagNormal})
		}
		return out
	}
	var ev annotate.Evaluator
	if a.source != nil {
		acquired, release, err := a.source.Acquire(ctx)
		if err != nil {
			a.logger.Warn("narrative: evaluator unavailable, using fallback tags", zap.Error(err))
		} else {
			defer release()
			ev = acquired
		}
	}
	return a.annotator.Annotate(ctx, ev, moves)
}

// Narrate builds the themed prompt and asks the generator for a story.
// Unknown themes never reach the generator.
func (a *Assembler) Narrate(ctx context.Context, moves []domain.Move, annotated []domain.AnnotatedMove, theme string, meta GameMeta) domain.NarrativeResult {
	req := domain.NarrativeRequest{
		Theme:    theme,
		Movetext: RenderMovetext(moves),
		Opening:  meta.Opening,
		White:    meta.White,
		Black:    meta.Black,
		Event:    meta.Event,
	}
	if a.mode == ModeAnalysis {
		req.AnalysisLines = RenderAnalysis(annotated)
	}

	prompt, err := a.themes.Render(theme, themes.Data{
		Analysis: strings.Join(req.AnalysisLines, "\n"),
		Movetext: req.Movetext,
		Opening:  req.Opening,
		White:    req.White,
		Black:    req.Black,
		Event:    req.Event,
	})
	if err != nil {
		if errors.Is(err, themes.ErrUnknownTheme) {
			return unknownTheme(theme)
		}
		a.logger.Error("narrative: prompt render failed", zap.String("theme", theme), zap.Error(err))
		return domain.NarrativeResult{Error: GenerationFailedMessage, Err: fmt.Errorf("%w: %v", ErrGeneration, err)}
	}

	text, err := a.gen.Generate(ctx, prompt)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyStory
	}
	if err != nil {
		a.logger.Error("narrative: generation failed",
			zap.String("theme", theme),
			zap.Int("moves", len(moves)),
			zap.Error(err),
		)
		return domain.NarrativeResult{Error: GenerationFailedMessage, Err: fmt.Errorf("%w: %v", ErrGeneration, err)}
	}
	return domain.NarrativeResult{Story: strings.TrimSpace(text)}
}

func unknownTheme(theme string) domain.NarrativeResult {
	return domain.NarrativeResult{
		Error: fmt.Sprintf("Theme '%s' not found.", theme),
		Err:   fmt.Errorf("%w: %s", themes.ErrUnknownTheme, theme),
	}
}

// RenderAnalysis produces one line per annotated move, numbered from 1 by position in the list.
func RenderAnalysis(annotated []domain.AnnotatedMove) []string {
	lines := make([]string, 0, len(annotated))
	for i, am := range annotated {
		lines = append(lines, fmt.Sprintf("Move %d (%s): %s is a %s.", i+1, am.Side, am.SAN, am.Tag.Label()))
	}
	return lines
}

// RenderMovetext joins SAN moves, prefixing each White move with its move number.
func RenderMovetext(moves []domain.Move) string {
	var b strings.Builder
	for i, m := range moves {
		if i > 0 {
			b.WriteByte(' ')
		}
		if m.Side == domain.White {
			b.WriteString(strconv.Itoa(m.MoveNumber))
			b.WriteString(". ")
		}
		b.WriteString(m.SAN)
	}
	return b.String()
}
