package chess

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
	"github.com/park285/bards-gambit/internal/domain"
)

var (
	ErrEmptyPGN = errors.New("no PGN string provided")
	ErrNoGame   = errors.New("no game found")
	ErrNoMoves  = errors.New("game has no moves")
)

var resultTokens = []string{"1-0", "0-1", "1/2-1/2", " *", "\n*"}

// ParsedGame is the mainline of one PGN game with per-move positions.
type ParsedGame struct {
	Moves    []domain.Move
	FinalFEN string
	ECOCode  string
	Opening  string

	game *nchess.Game
}

// Tag returns a PGN header value such as "White", or "" when the game has no such tag.
func (g *ParsedGame) Tag(key string) string {
	if g == nil || g.game == nil {
		return ""
	}
	return strings.TrimSpace(g.game.GetTagPair(key))
}

// ParseGame reads the first game from raw PGN. Bare movetext without a result token is accepted.
func ParseGame(raw string) (*ParsedGame, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, ErrEmptyPGN
	}
	if !hasResultToken(text) {
		text += " *"
	}

	opt, err := nchess.PGN(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoGame, err)
	}
	game := nchess.NewGame(opt)

	moves := game.Moves()
	positions := game.Positions()
	if len(moves) == 0 {
		return nil, ErrNoMoves
	}
	if len(positions) < len(moves)+1 {
		return nil, fmt.Errorf("%w: %d positions for %d moves", ErrNoGame, len(positions), len(moves))
	}

	notation := nchess.AlgebraicNotation{}
	out := make([]domain.Move, 0, len(moves))
	moveNumber := 0
	for i, mv := range moves {
		pos := positions[i]
		side := domain.White
		if pos.Turn() == nchess.Black {
			side = domain.Black
		} else {
			moveNumber++
		}
		// games set up from a FEN with Black to move still start at move 1
		if moveNumber == 0 {
			moveNumber = 1
		}
		out = append(out, domain.Move{
			MoveNumber: moveNumber,
			Side:       side,
			SAN:        notation.Encode(pos, mv),
			FENBefore:  pos.String(),
		})
	}

	parsed := &ParsedGame{
		Moves:    out,
		FinalFEN: positions[len(moves)].String(),
		game:     game,
	}
	if book := opening.NewBookECO(); book != nil {
		if eco := book.Find(moves); eco != nil {
			parsed.ECOCode = eco.Code()
			parsed.Opening = eco.Title()
		}
	}
	return parsed, nil
}

func hasResultToken(text string) bool {
	for _, token := range resultTokens {
		if strings.Contains(text, token) {
			return true
		}
	}
	return strings.HasSuffix(text, "*")
}
