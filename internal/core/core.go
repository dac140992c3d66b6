// Package core contains the main struct of the software.
package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"

	"github.com/bluenviron/whipgate/internal/api"
	"github.com/bluenviron/whipgate/internal/conf"
	"github.com/bluenviron/whipgate/internal/confwatcher"
	"github.com/bluenviron/whipgate/internal/externalcmd"
	"github.com/bluenviron/whipgate/internal/ingest"
	"github.com/bluenviron/whipgate/internal/janus"
	"github.com/bluenviron/whipgate/internal/logger"
	"github.com/bluenviron/whipgate/internal/pprof"
	"github.com/bluenviron/whipgate/internal/registry"
	serverswhip "github.com/bluenviron/whipgate/internal/servers/whip"
)

var version = "v0.0.0"

var defaultConfPaths = []string{
	"whipgate.yml",
	"/usr/local/etc/whipgate.yml",
	"/usr/etc/whipgate.yml",
	"/etc/whipgate/whipgate.yml",
}

var cli struct {
	Version  bool   `help:"print version"`
	Confpath string `arg:"" default:""`
}

// backendAdapter exposes a janus.Client through the interface consumed
// by the ingest controller.
type backendAdapter struct {
	*janus.Client
}

func (a backendAdapter) Attach(ctx context.Context) (ingest.BackendHandle, error) {
	h, err := a.Client.Attach(ctx)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Core is an instance of whipgate.
type Core struct {
	ctx             context.Context
	ctxCancel       func()
	confPath        string
	conf            *conf.Conf
	logger          *logger.Logger
	externalCmdPool *externalcmd.Pool
	registry        *registry.Registry
	backend         *janus.Client
	controller      *ingest.Controller
	whipServer      *serverswhip.Server
	api             *api.API
	pprof           *pprof.PPROF
	confWatcher     *confwatcher.ConfWatcher

	backendCtx       context.Context
	backendCtxCancel func()
	backendDone      chan struct{}
	chBackendLost    chan struct{}

	// out
	done chan struct{}
}

// New allocates a Core.
func New(args []string) (*Core, bool) {
	parser, err := kong.New(&cli,
		kong.Description("whipgate "+version),
		kong.UsageOnError(),
		kong.ValueFormatter(func(value *kong.Value) string {
			switch value.Name {
			case "confpath":
				return "path to a config file. The default is whipgate.yml."

			default:
				return kong.DefaultHelpValueFormatter(value)
			}
		}))
	if err != nil {
		panic(err)
	}

	_, err = parser.Parse(args)
	parser.FatalIfErrorf(err)

	if cli.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	p := &Core{
		ctx:       ctx,
		ctxCancel: ctxCancel,
		done:      make(chan struct{}),
	}

	p.conf, p.confPath, err = conf.Load(cli.Confpath, defaultConfPaths)
	if err != nil {
		fmt.Printf("ERR: %s\n", err)
		return nil, false
	}

	err = p.createResources(true)
	if err != nil {
		if p.logger != nil {
			p.Log(logger.Error, "%s", err)
		} else {
			fmt.Printf("ERR: %s\n", err)
		}
		p.closeResources(nil)
		return nil, false
	}

	go p.run()

	return p, true
}

// Close closes Core and waits for all goroutines to return.
func (p *Core) Close() {
	p.ctxCancel()
	<-p.done
}

// Wait waits for the Core to exit.
func (p *Core) Wait() {
	<-p.done
}

// Log implements logger.Writer.
func (p *Core) Log(level logger.Level, format string, args ...interface{}) {
	p.logger.Log(level, format, args...)
}

// OnEndpointInactive implements ingest.Parent. It launches the
// configured hook when a session ends for any reason.
func (p *Core) OnEndpointInactive(endpointID string) {
	if p.conf.RunOnEndpointInactive != "" {
		p.Log(logger.Debug, "runOnEndpointInactive command launched")
		c := &externalcmd.Cmd{
			Pool:    p.externalCmdPool,
			Command: p.conf.RunOnEndpointInactive,
			Env:     externalcmd.Environment{"WG_ENDPOINT": endpointID},
		}
		c.Initialize()
	}
}

func (p *Core) run() {
	defer close(p.done)

	confChanged := func() chan struct{} {
		if p.confWatcher != nil {
			return p.confWatcher.Watch()
		}
		return make(chan struct{})
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

outer:
	for {
		select {
		case <-confChanged:
			p.Log(logger.Info, "reloading configuration (file changed)")

			newConf, _, err := conf.Load(p.confPath, nil)
			if err != nil {
				p.Log(logger.Error, "%s", err)
				break outer
			}

			err = p.reloadConf(newConf)
			if err != nil {
				p.Log(logger.Error, "%s", err)
				break outer
			}

		case <-interrupt:
			p.Log(logger.Info, "shutting down gracefully")
			break outer

		case <-p.ctx.Done():
			break outer
		}
	}

	p.ctxCancel()

	p.closeResources(nil)
}

func (p *Core) createResources(initial bool) error {
	var err error

	if p.logger == nil {
		p.logger = &logger.Logger{
			Level:        logger.Level(p.conf.LogLevel),
			Destinations: p.conf.LogDestinations,
			FilePath:     p.conf.LogFile,
		}
		err = p.logger.Initialize()
		if err != nil {
			return err
		}
	}

	if initial {
		p.Log(logger.Info, "whipgate %s", version)
		if p.confPath == "" {
			p.Log(logger.Warn, "configuration file not found, using defaults")
		}

		gin.SetMode(gin.ReleaseMode)

		p.externalCmdPool = &externalcmd.Pool{}
		p.externalCmdPool.Initialize()
	}

	if p.registry == nil {
		p.registry = &registry.Registry{}
		p.registry.Initialize()

		for id, cnf := range p.conf.Endpoints {
			err = p.registry.Create(registry.NewFromConf(id, cnf, p.conf.AdminKey))
			if err != nil {
				return err
			}
			p.Log(logger.Info, "[endpoint %s] created (room %d)", id, cnf.Room)
		}
	}

	if p.backend == nil {
		p.backend = &janus.Client{
			Address:         p.conf.BackendAddress,
			Plugin:          p.conf.BackendPlugin,
			KeepAlivePeriod: time.Duration(p.conf.BackendKeepAlivePeriod),
			Parent:          p,
		}
		p.backend.Initialize()
	}

	if p.controller == nil {
		p.controller = &ingest.Controller{
			Backend:        backendAdapter{p.backend},
			Registry:       p.registry,
			ICEServers:     p.conf.ICEServers.ToWebRTC(),
			TrickleEnabled: p.conf.WHIPTrickle,
			StrictETags:    p.conf.WHIPStrictETags,
			Parent:         p,
		}
		p.controller.Initialize()

		p.backend.OnHandleClosed = p.controller.HandleClosed
	}

	if p.backendDone == nil {
		p.backendCtx, p.backendCtxCancel = context.WithCancel(context.Background())
		p.backendDone = make(chan struct{})
		p.chBackendLost = make(chan struct{}, 1)

		ch := p.chBackendLost
		p.backend.OnDisconnected = func() {
			select {
			case ch <- struct{}{}:
			default:
			}
		}

		go p.runBackendConnector(
			p.backendCtx,
			p.backendDone,
			p.backend,
			p.controller,
			p.chBackendLost,
			time.Duration(p.conf.BackendReconnectPause),
			p.conf.RunOnBackendDisconnect,
			p.conf.RunOnBackendReconnect,
		)
	}

	if p.whipServer == nil {
		p.whipServer = &serverswhip.Server{
			Address:      p.conf.WHIPAddress,
			Encryption:   p.conf.WHIPEncryption,
			ServerKey:    p.conf.WHIPServerKey,
			ServerCert:   p.conf.WHIPServerCert,
			AllowOrigin:  p.conf.WHIPAllowOrigin,
			ReadTimeout:  time.Duration(p.conf.ReadTimeout),
			WriteTimeout: time.Duration(p.conf.WriteTimeout),
			BasePath:     p.conf.WHIPBasePath,
			Controller:   p.controller,
			Registry:     p.registry,
			Parent:       p,
		}
		err = p.whipServer.Initialize()
		if err != nil {
			return err
		}
	}

	if p.conf.API {
		if p.api == nil {
			p.api = &api.API{
				Version:      version,
				Started:      time.Now(),
				Address:      p.conf.APIAddress,
				Encryption:   p.conf.APIEncryption,
				ServerKey:    p.conf.APIServerKey,
				ServerCert:   p.conf.APIServerCert,
				AllowOrigin:  p.conf.APIAllowOrigin,
				ReadTimeout:  time.Duration(p.conf.ReadTimeout),
				WriteTimeout: time.Duration(p.conf.WriteTimeout),
				Token:        p.conf.APIToken,
				AdminKey:     p.conf.AdminKey,
				Controller:   p.controller,
				Registry:     p.registry,
				Parent:       p,
			}
			err = p.api.Initialize()
			if err != nil {
				return err
			}
		}
	}

	if p.conf.PPROF {
		if p.pprof == nil {
			p.pprof = &pprof.PPROF{
				Address:     p.conf.PPROFAddress,
				ReadTimeout: time.Duration(p.conf.ReadTimeout),
				Parent:      p,
			}
			err = p.pprof.Initialize()
			if err != nil {
				return err
			}
		}
	}

	if initial && p.confPath != "" {
		p.confWatcher = &confwatcher.ConfWatcher{FilePath: p.confPath}
		err = p.confWatcher.Initialize()
		if err != nil {
			return err
		}
	}

	return nil
}

// runBackendConnector keeps the backend connection alive: it dials,
// waits for a disconnection and dials again after a pause. Lost
// sessions are cleared before any reconnection attempt.
func (p *Core) runBackendConnector(
	ctx context.Context,
	done chan struct{},
	client *janus.Client,
	ctrl *ingest.Controller,
	chLost chan struct{},
	pause time.Duration,
	runOnDisconnect string,
	runOnReconnect string,
) {
	defer close(done)

	connectedBefore := false

	for {
		err := client.Connect(ctx)
		if err != nil && !errors.Is(err, janus.ErrAlreadyConnecting) {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}

			p.Log(logger.Warn, "backend connection failed: %v", err)

			select {
			case <-time.After(pause):
				continue
			case <-ctx.Done():
				return
			}
		}

		if connectedBefore && runOnReconnect != "" {
			p.Log(logger.Debug, "runOnBackendReconnect command launched")
			c := &externalcmd.Cmd{
				Pool:    p.externalCmdPool,
				Command: runOnReconnect,
			}
			c.Initialize()
		}
		connectedBefore = true

		select {
		case <-chLost:
			p.Log(logger.Warn, "backend connection lost")
			ctrl.BackendLost()

			if runOnDisconnect != "" {
				p.Log(logger.Debug, "runOnBackendDisconnect command launched")
				c := &externalcmd.Cmd{
					Pool:    p.externalCmdPool,
					Command: runOnDisconnect,
				}
				c.Initialize()
			}

			select {
			case <-time.After(pause):
			case <-ctx.Done():
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func (p *Core) closeResources(newConf *conf.Conf) {
	closeLogger := newConf == nil ||
		newConf.LogLevel != p.conf.LogLevel ||
		!reflect.DeepEqual(newConf.LogDestinations, p.conf.LogDestinations) ||
		newConf.LogFile != p.conf.LogFile

	closeRegistry := newConf == nil ||
		!reflect.DeepEqual(newConf.Endpoints, p.conf.Endpoints) ||
		newConf.AdminKey != p.conf.AdminKey

	closeBackend := newConf == nil ||
		newConf.BackendAddress != p.conf.BackendAddress ||
		newConf.BackendPlugin != p.conf.BackendPlugin ||
		newConf.BackendKeepAlivePeriod != p.conf.BackendKeepAlivePeriod

	closeController := closeBackend ||
		closeRegistry ||
		!reflect.DeepEqual(newConf.ICEServers, p.conf.ICEServers) ||
		newConf.WHIPTrickle != p.conf.WHIPTrickle ||
		newConf.WHIPStrictETags != p.conf.WHIPStrictETags

	closeBackendConnector := closeController ||
		newConf.BackendReconnectPause != p.conf.BackendReconnectPause ||
		newConf.RunOnBackendDisconnect != p.conf.RunOnBackendDisconnect ||
		newConf.RunOnBackendReconnect != p.conf.RunOnBackendReconnect

	closeWHIPServer := closeController ||
		newConf.WHIPAddress != p.conf.WHIPAddress ||
		newConf.WHIPEncryption != p.conf.WHIPEncryption ||
		newConf.WHIPServerKey != p.conf.WHIPServerKey ||
		newConf.WHIPServerCert != p.conf.WHIPServerCert ||
		newConf.WHIPAllowOrigin != p.conf.WHIPAllowOrigin ||
		newConf.WHIPBasePath != p.conf.WHIPBasePath ||
		newConf.ReadTimeout != p.conf.ReadTimeout ||
		newConf.WriteTimeout != p.conf.WriteTimeout

	closeAPI := newConf == nil ||
		closeController ||
		newConf.API != p.conf.API ||
		newConf.APIAddress != p.conf.APIAddress ||
		newConf.APIEncryption != p.conf.APIEncryption ||
		newConf.APIServerKey != p.conf.APIServerKey ||
		newConf.APIServerCert != p.conf.APIServerCert ||
		newConf.APIAllowOrigin != p.conf.APIAllowOrigin ||
		newConf.APIToken != p.conf.APIToken ||
		newConf.ReadTimeout != p.conf.ReadTimeout ||
		newConf.WriteTimeout != p.conf.WriteTimeout

	closePPROF := newConf == nil ||
		newConf.PPROF != p.conf.PPROF ||
		newConf.PPROFAddress != p.conf.PPROFAddress ||
		newConf.ReadTimeout != p.conf.ReadTimeout

	if newConf == nil && p.confWatcher != nil {
		p.confWatcher.Close()
		p.confWatcher = nil
	}

	if closePPROF && p.pprof != nil {
		p.pprof.Close()
		p.pprof = nil
	}

	if closeAPI && p.api != nil {
		p.api.Close()
		p.api = nil
	}

	if closeWHIPServer && p.whipServer != nil {
		p.whipServer.Close()
		p.whipServer = nil
	}

	if closeBackendConnector && p.backendDone != nil {
		p.backendCtxCancel()
		<-p.backendDone
		p.backendDone = nil
	}

	if closeBackend && p.backend != nil {
		p.backend.Close()
		p.backend = nil
	}

	if closeController && p.controller != nil {
		p.controller = nil
	}

	if closeRegistry && p.registry != nil {
		p.registry = nil
	}

	if newConf == nil && p.externalCmdPool != nil {
		p.Log(logger.Info, "waiting for running hooks")
		p.externalCmdPool.Close()
	}

	if closeLogger && p.logger != nil {
		p.logger.Close()
		p.logger = nil
	}
}

func (p *Core) reloadConf(newConf *conf.Conf) error {
	p.closeResources(newConf)
	p.conf = newConf
	return p.createResources(false)
}
