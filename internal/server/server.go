package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/park285/bards-gambit/internal/games"
	"github.com/park285/bards-gambit/internal/narrative"
	"github.com/park285/bards-gambit/internal/themes"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// currentGameID is the slot the board frontend saves to and narrates from.
const currentGameID = "current_game"

type Config struct {
	Assembler      *narrative.Assembler
	Themes         *themes.Table
	Games          games.Repository
	DefaultTheme   string
	RequestTimeout time.Duration
	AllowedOrigins []string
	Logger         *zap.Logger
}

type Server struct {
	assembler    *narrative.Assembler
	themes       *themes.Table
	games        games.Repository
	defaultTheme string
	timeout      time.Duration
	logger       *zap.Logger
	router       *gin.Engine
}

func New(cfg Config) (*Server, error) {
	if cfg.Assembler == nil || cfg.Themes == nil || cfg.Games == nil {
		return nil, errors.New("server: assembler, themes and games are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	s := &Server{
		assembler:    cfg.Assembler,
		themes:       cfg.Themes,
		games:        cfg.Games,
		defaultTheme: cfg.DefaultTheme,
		timeout:      timeout,
		logger:       logger,
	}
	s.router = s.routes(cfg.AllowedOrigins)
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes(origins []string) *gin.Engine {
	r := gin.New()
	r.Use(zapLogger(s.logger), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}
	corsConfig.MaxAge = 12 * time.Hour
	r.Use(cors.New(corsConfig))

	health := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }
	r.GET("/healthz", health)
	r.HEAD("/healthz", health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/themes", s.listThemes)
	r.POST("/generate-story", s.generateStory)
	r.GET("/narrate/:gameID/:theme", s.narrateGame)
	r.POST("/narrate/:gameID/:theme", s.narrateGame)

	api := r.Group("/api")
	api.POST("/save_game", s.saveGame)
	api.GET("/games", s.listGames)
	api.GET("/games/:id", s.getGame)
	api.POST("/annotate", s.annotate)
	return r
}
