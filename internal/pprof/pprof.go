// Package pprof contains a pprof exporter.
package pprof

import (
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"

	"github.com/bluenviron/whipgate/internal/logger"
	"github.com/bluenviron/whipgate/internal/protocols/httpp"
)

// PPROF is a pprof exporter.
type PPROF struct {
	Address     string
	ReadTimeout time.Duration
	Parent      logger.Writer

	httpServer *httpp.Server
}

// Initialize initializes PPROF.
func (pp *PPROF) Initialize() error {
	router := gin.New()
	pprof.Register(router, "/debug/pprof")

	pp.httpServer = &httpp.Server{
		Address:     pp.Address,
		ReadTimeout: pp.ReadTimeout,
		Handler:     router,
		Parent:      pp,
	}
	err := pp.httpServer.Initialize()
	if err != nil {
		return err
	}

	pp.Log(logger.Info, "listener opened on "+pp.Address)

	return nil
}

// Close closes PPROF.
func (pp *PPROF) Close() {
	pp.Log(logger.Info, "listener is closing")
	pp.httpServer.Close()
}

// Log implements logger.Writer.
func (pp *PPROF) Log(level logger.Level, format string, args ...interface{}) {
	pp.Parent.Log(level, "[pprof] "+format, args...)
}
