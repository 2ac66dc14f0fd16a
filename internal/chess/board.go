package chess

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/bards-gambit/internal/domain"
)

var ErrIllegalMove = errors.New("move is not legal in position")

// Board applies SAN moves to FEN positions.
type Board struct{}

func NewBoard() Board { return Board{} }

// Apply returns the position after m and whether m captures (en passant included).
func (Board) Apply(m domain.Move) (string, bool, error) {
	opt, err := nchess.FEN(strings.TrimSpace(m.FENBefore))
	if err != nil {
		return "", false, fmt.Errorf("decode fen %q: %w", m.FENBefore, err)
	}
	game := nchess.NewGame(opt)
	pos := game.Position()

	san := strings.TrimSpace(m.SAN)
	mv, err := nchess.AlgebraicNotation{}.Decode(pos, san)
	if err != nil {
		return "", false, fmt.Errorf("%w: %s: %v", ErrIllegalMove, m.SAN, err)
	}
	capture := mv.HasTag(nchess.Capture) || mv.HasTag(nchess.EnPassant)
	if err := game.PushNotationMove(san, nchess.AlgebraicNotation{}, nil); err != nil {
		return "", false, fmt.Errorf("%w: %s: %v", ErrIllegalMove, m.SAN, err)
	}
	return game.FEN(), capture, nil
}

// SideToMove reads the active colour field of a FEN. Unparseable input reports White.
func SideToMove(fen string) domain.Side {
	fields := strings.Fields(fen)
	if len(fields) >= 2 && fields[1] == "b" {
		return domain.Black
	}
	return domain.White
}
