package commands

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/riskrunner/internal/logger"
)

type Globals struct {
	Debug   bool
	Version string
}

// setupLogger configures the global logger used by the internal packages and
// returns it for the command's own use.
func (g *Globals) setupLogger() zerolog.Logger {
	l := logger.Setup(g.Debug)
	log.Logger = l
	return l
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}
