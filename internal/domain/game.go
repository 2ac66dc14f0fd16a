package domain

import (
	"fmt"
	"strings"
	"time"
)

type Side int

const (
	White Side = iota
	Black
)

func (s Side) String() string {
	if s == Black {
		return "Black"
	}
	return "White"
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "white", "w":
		*s = White
	case "black", "b":
		*s = Black
	default:
		return fmt.Errorf("unknown side %q", b)
	}
	return nil
}

// Move is one half-move of a parsed game. FENBefore is the position the SAN was computed against.
type Move struct {
	MoveNumber int    `json:"move_number"`
	Side       Side   `json:"side"`
	SAN        string `json:"san"`
	FENBefore  string `json:"fen_before"`
}

// Evaluation is a single engine sample in centipawns from White's perspective.
// A zero value is unavailable.
type Evaluation struct {
	CP        int  `json:"cp"`
	Available bool `json:"available"`
}

func Centipawns(cp int) Evaluation { return Evaluation{CP: cp, Available: true} }

func Unavailable() Evaluation { return Evaluation{} }

type EventTag string

const (
	TagBlunder   EventTag = "blunder"
	TagMistake   EventTag = "mistake"
	TagNormal    EventTag = "normal"
	TagCapture   EventTag = "capture"
	TagGreatMove EventTag = "great_move"
	TagBrilliant EventTag = "brilliant"
)

// Label is the human-readable form used in prompts ("great_move" -> "great move").
func (t EventTag) Label() string {
	return strings.ReplaceAll(string(t), "_", " ")
}

type AnnotatedMove struct {
	MoveNumber int        `json:"move_number"`
	Side       Side       `json:"side"`
	SAN        string     `json:"san"`
	Tag        EventTag   `json:"event"`
	Capture    bool       `json:"capture"`
	EvalBefore Evaluation `json:"eval_before"`
	EvalAfter  Evaluation `json:"eval_after"`
	Loss       *int       `json:"loss,omitempty"`
}

type NarrativeRequest struct {
	Theme         string
	AnalysisLines []string
	Movetext      string
	Opening       string
	White         string
	Black         string
	Event         string
}

// NarrativeResult holds either a story or a user-facing error, never both.
// Err keeps the underlying cause for status mapping and is not serialized.
type NarrativeResult struct {
	Story string `json:"story,omitempty"`
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

func (r NarrativeResult) OK() bool { return r.Error == "" }

type SavedGame struct {
	ID        string    `json:"id"`
	Event     string    `json:"event,omitempty"`
	White     string    `json:"white,omitempty"`
	Black     string    `json:"black,omitempty"`
	PGN       string    `json:"pgn"`
	FEN       string    `json:"fen,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
