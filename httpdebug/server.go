// Package httpdebug wraps an optional debug HTTP server exposing
// Prometheus metrics and the engine's rendered graph. The engine never
// starts this itself; a caller wires it up alongside Engine.Run the way
// Chapter10/linksrus/service/frontend wires its own router.
package httpdebug

import (
	"context"
	"io/ioutil"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/MarshallRawson/ntpnet/render"
)

// dotter is the subset of *ntpnet.Net this package needs; kept local so
// httpdebug does not import ntpnet, leaving the dependency direction
// ntpnet <- httpdebug -> render rather than a cycle.
type dotter interface {
	AsDot() string
	PseudoHash() uint64
}

// Config configures a Server. Net and CacheDir are required; ListenAddr
// defaults to ":6061" if empty.
type Config struct {
	Net        dotter
	CacheDir   string
	ListenAddr string
	Logger     *logrus.Entry
}

func (cfg *Config) validate() error {
	if cfg.Net == nil {
		return xerrors.New("httpdebug: Net has not been provided")
	}
	if cfg.CacheDir == "" {
		return xerrors.New("httpdebug: CacheDir has not been provided")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":6061"
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return nil
}

// Server exposes GET /metrics (promhttp) and GET /graph.png (the cached
// render of Config.Net) behind a mux.Router.
type Server struct {
	cfg    Config
	router *mux.Router
}

// NewServer validates cfg and builds the router; it does not listen
// until Run is called.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("httpdebug: %w", err)
	}
	s := &Server{cfg: cfg, router: mux.NewRouter()}
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/graph.png", s.serveGraph).Methods("GET")
	return s, nil
}

// Run listens on cfg.ListenAddr until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return xerrors.Errorf("httpdebug: listen %q: %w", s.cfg.ListenAddr, err)
	}
	defer func() { _ = l.Close() }()

	srv := &http.Server{Handler: s.router}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	s.cfg.Logger.WithField("addr", s.cfg.ListenAddr).Info("starting debug http server")
	if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) serveGraph(w http.ResponseWriter, r *http.Request) {
	path, err := render.Render(s.cfg.Net, s.cfg.CacheDir)
	if err != nil {
		s.cfg.Logger.WithError(err).Warn("graph render failed")
		http.Error(w, render.ErrRenderFailed.Error(), http.StatusServiceUnavailable)
		return
	}
	http.ServeFile(w, r, path)
}
