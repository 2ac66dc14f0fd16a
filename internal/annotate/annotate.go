package annotate

import (
	"context"

	"github.com/park285/bards-gambit/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	blunderThreshold   = 300
	mistakeThreshold   = 150
	brilliantThreshold = -100
	greatMoveThreshold = -50
)

// Evaluator scores a position in centipawns from White's perspective.
// An unavailable sample is reported as domain.Unavailable() with a nil error.
type Evaluator interface {
	Evaluate(ctx context.Context, fen string) (domain.Evaluation, error)
}

// EvaluatorSource hands out an Evaluator for the duration of one game.
// The returned release func must be called exactly once.
type EvaluatorSource interface {
	Acquire(ctx context.Context) (Evaluator, func(), error)
}

// Board applies a move to its FENBefore position.
type Board interface {
	Apply(m domain.Move) (fenAfter string, capture bool, err error)
}

// SourceFunc adapts a function to EvaluatorSource.
type SourceFunc func(ctx context.Context) (Evaluator, func(), error)

func (f SourceFunc) Acquire(ctx context.Context) (Evaluator, func(), error) { return f(ctx) }

// Shared exposes a stateless Evaluator as a source; release is a no-op.
func Shared(ev Evaluator) EvaluatorSource {
	return SourceFunc(func(context.Context) (Evaluator, func(), error) {
		return ev, func() {}, nil
	})
}

var tagCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bard_move_tags_total",
	Help: "Annotated moves by event tag.",
}, []string{"tag"})

// Annotator tags a game's moves from evaluations taken before and after each one.
type Annotator struct {
	board  Board
	logger *zap.Logger
}

// New returns an Annotator that replays moves on board. A nil logger discards output.
func New(board Board, logger *zap.Logger) *Annotator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Annotator{board: board, logger: logger}
}

// Annotate tags every move in order. Oracle failures degrade a move to its fallback tag and never
// abort the sequence. ev may be nil, in which case every move takes the fallback path.
func (a *Annotator) Annotate(ctx context.Context, ev Evaluator, moves []domain.Move) []domain.AnnotatedMove {
	out := make([]domain.AnnotatedMove, 0, len(moves))

	var (
		carriedFEN  string
		carriedEval domain.Evaluation
		carried     bool
	)
	for i, m := range moves {
		var before domain.Evaluation
		if carried && carriedFEN == m.FENBefore {
			before = carriedEval
		} else {
			before = a.sample(ctx, ev, m.FENBefore)
		}
		carried = false

		am := domain.AnnotatedMove{
			MoveNumber: m.MoveNumber,
			Side:       m.Side,
			SAN:        m.SAN,
			EvalBefore: before,
		}

		fenAfter, capture, err := a.board.Apply(m)
		if err != nil {
			a.logger.Warn("annotate: move not applicable",
				zap.Int("ply", i+1),
				zap.String("san", m.SAN),
				zap.String("fen", m.FENBefore),
				zap.Error(err),
			)
			am.Tag = domain.TagNormal
			out = append(out, am)
			tagCounter.WithLabelValues(string(am.Tag)).Inc()
			continue
		}

		after := a.sample(ctx, ev, fenAfter)
		carriedFEN, carriedEval, carried = fenAfter, after, true

		am.Capture = capture
		am.EvalAfter = after
		if !before.Available || !after.Available {
			am.Tag = Fallback(capture)
		} else {
			loss := Loss(m.Side, before.CP, after.CP)
			am.Loss = &loss
			am.Tag = Classify(loss, capture)
		}
		out = append(out, am)
		tagCounter.WithLabelValues(string(am.Tag)).Inc()
	}
	return out
}

// sample never fails: errors and missing evaluators collapse into an unavailable evaluation.
func (a *Annotator) sample(ctx context.Context, ev Evaluator, fen string) domain.Evaluation {
	if ev == nil {
		return domain.Unavailable()
	}
	if err := ctx.Err(); err != nil {
		return domain.Unavailable()
	}
	eval, err := ev.Evaluate(ctx, fen)
	if err != nil {
		a.logger.Debug("annotate: evaluation unavailable", zap.String("fen", fen), zap.Error(err))
		return domain.Unavailable()
	}
	return eval
}

// Loss is the centipawn drop suffered by the mover; negative values are gains.
func Loss(side domain.Side, before, after int) int {
	if side == domain.Black {
		return after - before
	}
	return before - after
}

// Classify maps a mover-relative loss to a tag. Thresholds are checked in priority order.
func Classify(loss int, capture bool) domain.EventTag {
	switch {
	case loss >= blunderThreshold:
		return domain.TagBlunder
	case loss >= mistakeThreshold:
		return domain.TagMistake
	case loss <= brilliantThreshold:
		return domain.TagBrilliant
	case loss <= greatMoveThreshold:
		return domain.TagGreatMove
	}
	return Fallback(capture)
}

// Fallback is the tag for a move without a usable loss.
func Fallback(capture bool) domain.EventTag {
	if capture {
		return domain.TagCapture
	}
	return domain.TagNormal
}
