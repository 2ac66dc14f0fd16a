package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/park285/bards-gambit/internal/annotate"
	"github.com/park285/bards-gambit/internal/chess"
	"github.com/park285/bards-gambit/internal/domain"
	"github.com/park285/bards-gambit/internal/games"
	"github.com/park285/bards-gambit/internal/narrative"
	"github.com/park285/bards-gambit/internal/themes"
)

const operaPGN = `[Event "Paris Opera"]
[White "Paul Morphy"]
[Black "Duke Karl / Count Isouard"]
[Result "1-0"]

1. e4 e5 2. Nf3 d6 3. d4 Bg4 4. dxe5 Bxf3 5. Qxf3 dxe5 1-0`

func init() { gin.SetMode(gin.TestMode) }

type stubGenerator struct {
	text    string
	err     error
	prompts []string
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.text, g.err
}

func newTestServer(t *testing.T, gen *stubGenerator) (*Server, games.Repository) {
	t.Helper()
	tbl, err := themes.New("")
	if err != nil {
		t.Fatalf("themes.New: %v", err)
	}
	asm, err := narrative.New(narrative.Config{
		Themes:    tbl,
		Generator: gen,
		Annotator: annotate.New(chess.NewBoard(), nil),
		Mode:      narrative.ModeAnalysis,
	})
	if err != nil {
		t.Fatalf("narrative.New: %v", err)
	}
	repo := games.NewMemoryRepository()
	srv, err := New(Config{
		Assembler:    asm,
		Themes:       tbl,
		Games:        repo,
		DefaultTheme: "medieval_kingdom",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, repo
}

func do(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	out := map[string]any{}
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

func pgnBody(t *testing.T, fields map[string]string) string {
	t.Helper()
	b, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestGenerateStory(t *testing.T) {
	gen := &stubGenerator{text: "  The knight's tale.  "}
	srv, _ := newTestServer(t, gen)

	rec, out := do(t, srv, http.MethodPost, "/generate-story", pgnBody(t, map[string]string{"pgn": operaPGN}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if out["story"] != "The knight's tale." {
		t.Fatalf("unexpected body: %v", out)
	}
	if _, has := out["error"]; has {
		t.Fatalf("success must not carry an error key: %v", out)
	}
	prompt := gen.prompts[0]
	if !strings.Contains(prompt, "Paul Morphy") {
		t.Fatalf("player tag missing from prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Move 7 (White): dxe5 is a capture.") {
		t.Fatalf("fallback capture verdict missing from prompt:\n%s", prompt)
	}
}

func TestGenerateStoryRejectsInput(t *testing.T) {
	srv, _ := newTestServer(t, &stubGenerator{text: "x"})

	rec, out := do(t, srv, http.MethodPost, "/generate-story", `{}`)
	if rec.Code != http.StatusBadRequest || out["error"] != "No PGN string provided" {
		t.Fatalf("missing pgn: %d %v", rec.Code, out)
	}
	rec, out = do(t, srv, http.MethodPost, "/generate-story", pgnBody(t, map[string]string{"pgn": "this is not chess"}))
	if rec.Code != http.StatusBadRequest || out["error"] != "Could not parse PGN" {
		t.Fatalf("bad pgn: %d %v", rec.Code, out)
	}
}

func TestNarrateSavedGame(t *testing.T) {
	gen := &stubGenerator{text: "saga"}
	srv, repo := newTestServer(t, gen)
	if _, err := repo.Save(context.Background(), &domain.SavedGame{ID: "opera_game", PGN: operaPGN}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec, out := do(t, srv, http.MethodGet, "/narrate/opera_game/space_opera", "")
	if rec.Code != http.StatusOK || out["story"] != "saga" {
		t.Fatalf("narrate: %d %v", rec.Code, out)
	}
}

func TestNarrateUnknownGame(t *testing.T) {
	srv, _ := newTestServer(t, &stubGenerator{text: "saga"})
	rec, out := do(t, srv, http.MethodGet, "/narrate/missing/space_opera", "")
	if rec.Code != http.StatusNotFound || out["error"] != "Game with ID 'missing' not found" {
		t.Fatalf("unknown game: %d %v", rec.Code, out)
	}
}

func TestNarrateUnknownTheme(t *testing.T) {
	gen := &stubGenerator{text: "saga"}
	srv, _ := newTestServer(t, gen)

	body := pgnBody(t, map[string]string{"pgn": "1. e4 e5"})
	rec, out := do(t, srv, http.MethodPost, "/narrate/current_game/western", body)
	if rec.Code != http.StatusBadRequest || out["error"] != "Theme 'western' not found." {
		t.Fatalf("unknown theme: %d %v", rec.Code, out)
	}
	if len(gen.prompts) != 0 {
		t.Fatalf("generator must not be called")
	}
}

func TestNarrateGenerationFailure(t *testing.T) {
	srv, _ := newTestServer(t, &stubGenerator{err: errors.New("upstream 503: overloaded")})

	body := pgnBody(t, map[string]string{"pgn": "1. e4 e5", "whitePlayer": "Alice"})
	rec, out := do(t, srv, http.MethodPost, "/narrate/current_game/noir_detective", body)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status %d", rec.Code)
	}
	if out["error"] != narrative.GenerationFailedMessage {
		t.Fatalf("unexpected error body: %v", out)
	}
	if _, has := out["story"]; has {
		t.Fatalf("failure must not carry a story key: %v", out)
	}
}

func TestSaveGameThenNarrate(t *testing.T) {
	gen := &stubGenerator{text: "saga"}
	srv, _ := newTestServer(t, gen)

	rec, out := do(t, srv, http.MethodPost, "/api/save_game", `{"fen":"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1","pgn":"1. e4","white":"Alice"}`)
	if rec.Code != http.StatusOK || out["status"] != "success" || out["id"] != currentGameID {
		t.Fatalf("save: %d %v", rec.Code, out)
	}

	rec, out = do(t, srv, http.MethodGet, "/api/games/"+currentGameID, "")
	if rec.Code != http.StatusOK || out["white"] != "Alice" {
		t.Fatalf("get: %d %v", rec.Code, out)
	}

	rec, _ = do(t, srv, http.MethodPost, "/narrate/current_game/epic_fantasy", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("narrate saved: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(gen.prompts[0], "Alice") {
		t.Fatalf("saved player missing from prompt:\n%s", gen.prompts[0])
	}
}

func TestSaveGameValidation(t *testing.T) {
	srv, _ := newTestServer(t, &stubGenerator{})
	for _, body := range []string{`{"pgn":"1. e4"}`, `{"fen":"x"}`, `not json`} {
		rec, out := do(t, srv, http.MethodPost, "/api/save_game", body)
		if rec.Code != http.StatusBadRequest || out["status"] != "error" || out["message"] != "Missing FEN or PGN" {
			t.Fatalf("body %q: %d %v", body, rec.Code, out)
		}
	}
}

func TestAnnotateEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubGenerator{})
	rec, _ := do(t, srv, http.MethodPost, "/api/annotate", pgnBody(t, map[string]string{"pgn": "1. e4 d5 2. exd5"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var out annotateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Moves) != 3 {
		t.Fatalf("expected 3 moves, got %d", len(out.Moves))
	}
	if out.Moves[2].Tag != domain.TagCapture || out.Moves[0].Tag != domain.TagNormal {
		t.Fatalf("unexpected tags: %+v", out.Moves)
	}
}

func TestListThemesAndHealth(t *testing.T) {
	srv, _ := newTestServer(t, &stubGenerator{})

	rec, _ := do(t, srv, http.MethodGet, "/themes", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("themes status %d", rec.Code)
	}
	var list []themes.Theme
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode themes: %v", err)
	}
	found := false
	for _, th := range list {
		if th.Name == "medieval_kingdom" && th.Title != "" {
			found = true
		}
	}
	if !found {
		t.Fatalf("medieval_kingdom missing from %+v", list)
	}

	rec, out := do(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("healthz: %d %v", rec.Code, out)
	}
	rec, _ = do(t, srv, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		res  domain.NarrativeResult
		want int
	}{
		{domain.NarrativeResult{Story: "ok"}, http.StatusOK},
		{domain.NarrativeResult{Error: "x", Err: themes.ErrUnknownTheme}, http.StatusBadRequest},
		{domain.NarrativeResult{Error: "x", Err: narrative.ErrGeneration}, http.StatusBadGateway},
		{domain.NarrativeResult{Error: "x"}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.res); got != tc.want {
			t.Fatalf("statusFor(%+v) = %d, want %d", tc.res, got, tc.want)
		}
	}
}
