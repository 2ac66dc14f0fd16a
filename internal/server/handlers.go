package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/park285/bards-gambit/internal/chess"
	"github.com/park285/bards-gambit/internal/domain"
	"github.com/park285/bards-gambit/internal/games"
	"github.com/park285/bards-gambit/internal/narrative"
	"github.com/park285/bards-gambit/internal/themes"
	"go.uber.org/zap"
)

const (
	msgNoPGN        = "No PGN string provided"
	msgBadPGN       = "Could not parse PGN"
	msgMissingState = "Missing FEN or PGN"
	msgBadBody      = "Invalid request body"
	msgStoreFailed  = "Game data could not be loaded."
)

type storyRequest struct {
	PGN         string `json:"pgn"`
	Theme       string `json:"theme"`
	EventName   string `json:"eventName"`
	WhitePlayer string `json:"whitePlayer"`
	BlackPlayer string `json:"blackPlayer"`
}

type saveGameRequest struct {
	ID    string  `json:"id"`
	FEN   *string `json:"fen"`
	PGN   *string `json:"pgn"`
	Event string  `json:"event"`
	White string  `json:"white"`
	Black string  `json:"black"`
}

type annotateResponse struct {
	Moves   []domain.AnnotatedMove `json:"moves"`
	ECO     string                 `json:"eco,omitempty"`
	Opening string                 `json:"opening,omitempty"`
}

// bindOptional decodes a JSON body when one was sent. An empty body is not an error.
func bindOptional(c *gin.Context, dst any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) listThemes(c *gin.Context) {
	c.JSON(http.StatusOK, s.themes.List())
}

func (s *Server) generateStory(c *gin.Context) {
	var req storyRequest
	if err := bindOptional(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgBadBody})
		return
	}
	if strings.TrimSpace(req.PGN) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNoPGN})
		return
	}
	parsed, ok := s.parse(c, req.PGN)
	if !ok {
		return
	}
	theme := strings.TrimSpace(req.Theme)
	if theme == "" {
		theme = s.defaultTheme
	}
	s.tell(c, parsed, theme, metaFor(parsed, req, nil))
}

func (s *Server) narrateGame(c *gin.Context) {
	gameID := c.Param("gameID")
	theme := c.Param("theme")

	var req storyRequest
	if err := bindOptional(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgBadBody})
		return
	}

	var saved *domain.SavedGame
	pgn := req.PGN
	if strings.TrimSpace(pgn) == "" {
		g, err := s.games.Get(c.Request.Context(), gameID)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgStoreFailed})
			return
		}
		if g == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Game with ID '%s' not found", gameID)})
			return
		}
		saved = g
		pgn = g.PGN
	}

	parsed, ok := s.parse(c, pgn)
	if !ok {
		return
	}
	s.tell(c, parsed, theme, metaFor(parsed, req, saved))
}

func (s *Server) annotate(c *gin.Context) {
	var req storyRequest
	if err := bindOptional(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgBadBody})
		return
	}
	if strings.TrimSpace(req.PGN) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNoPGN})
		return
	}
	parsed, ok := s.parse(c, req.PGN)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()
	c.JSON(http.StatusOK, annotateResponse{
		Moves:   s.assembler.Annotate(ctx, parsed.Moves),
		ECO:     parsed.ECOCode,
		Opening: parsed.Opening,
	})
}

func (s *Server) saveGame(c *gin.Context) {
	var req saveGameRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FEN == nil || req.PGN == nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": msgMissingState})
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = currentGameID
	}
	savedID, err := s.games.Save(c.Request.Context(), &domain.SavedGame{
		ID:    id,
		Event: req.Event,
		White: req.White,
		Black: req.Black,
		PGN:   *req.PGN,
		FEN:   *req.FEN,
	})
	if err != nil {
		if errors.Is(err, games.ErrInvalidGame) {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": msgMissingState})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Game state could not be saved."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Game state saved successfully", "id": savedID})
}

func (s *Server) getGame(c *gin.Context) {
	id := c.Param("id")
	g, err := s.games.Get(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgStoreFailed})
		return
	}
	if g == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Game with ID '%s' not found", id)})
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) listGames(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := s.games.List(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgStoreFailed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": items})
}

// parse writes a 400 and returns ok=false when the PGN has no usable game.
func (s *Server) parse(c *gin.Context, pgn string) (*chess.ParsedGame, bool) {
	parsed, err := chess.ParseGame(pgn)
	if err == nil {
		return parsed, true
	}
	msg := msgBadPGN
	if errors.Is(err, chess.ErrEmptyPGN) {
		msg = msgNoPGN
	}
	s.logger.Debug("pgn rejected", zap.Error(err))
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
	return nil, false
}

func (s *Server) tell(c *gin.Context, parsed *chess.ParsedGame, theme string, meta narrative.GameMeta) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	res := s.assembler.Story(ctx, parsed.Moves, theme, meta)
	if res.OK() {
		c.JSON(http.StatusOK, res)
		return
	}
	if res.Err != nil {
		_ = c.Error(res.Err)
	}
	c.JSON(statusFor(res), res)
}

func statusFor(res domain.NarrativeResult) int {
	switch {
	case res.OK():
		return http.StatusOK
	case errors.Is(res.Err, themes.ErrUnknownTheme):
		return http.StatusBadRequest
	case errors.Is(res.Err, narrative.ErrGeneration):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// metaFor prefers request fields, then PGN tags, then the saved game record.
func metaFor(parsed *chess.ParsedGame, req storyRequest, saved *domain.SavedGame) narrative.GameMeta {
	var sv domain.SavedGame
	if saved != nil {
		sv = *saved
	}
	return narrative.GameMeta{
		Opening: parsed.Opening,
		Event:   firstNonEmpty(req.EventName, parsed.Tag("Event"), sv.Event),
		White:   firstNonEmpty(req.WhitePlayer, parsed.Tag("White"), sv.White),
		Black:   firstNonEmpty(req.BlackPlayer, parsed.Tag("Black"), sv.Black),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" && v != "?" {
			return v
		}
	}
	return ""
}
