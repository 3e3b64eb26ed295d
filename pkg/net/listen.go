package net

import (
	"fmt"
	"net"

	"dominicbreuker/lanlink/pkg/config"
	"dominicbreuker/lanlink/pkg/transport/kcp"
	"dominicbreuker/lanlink/pkg/transport/tcp"
	"dominicbreuker/lanlink/pkg/transport/ws"
)

// listenDependencies holds injectable dependencies for testing.
type listenDependencies struct {
	listenTCP func(string, *config.Dependencies) (net.Listener, error)
	listenWS  func(string, *config.Dependencies) (net.Listener, error)
	listenKCP func(string, *config.Dependencies) (net.Listener, error)
}

var realListenDeps = &listenDependencies{
	listenTCP: tcp.Listen,
	listenWS: func(addr string, deps *config.Dependencies) (net.Listener, error) {
		return ws.Listen(addr, deps)
	},
	listenKCP: kcp.Listen,
}

// Listen opens a listener for the reliable transport selected by
// cfg.Protocol on addr.
func Listen(cfg *config.Config, addr string) (net.Listener, error) {
	return listen(cfg, addr, realListenDeps)
}

// listen is the internal implementation.
func listen(cfg *config.Config, addr string, deps *listenDependencies) (net.Listener, error) {
	cfg.Logger.VerboseMsg("Creating listener for protocol %s at %s", cfg.Protocol, addr)

	var l net.Listener
	var err error
	switch cfg.Protocol {
	case config.ProtoWS:
		l, err = deps.listenWS(addr, cfg.Deps)
	case config.ProtoKCP:
		l, err = deps.listenKCP(addr, cfg.Deps)
	default:
		l, err = deps.listenTCP(addr, cfg.Deps)
	}
	if err != nil {
		return nil, fmt.Errorf("listen(%s, %s): %w", cfg.Protocol, addr, err)
	}

	if cfg.TrafficLog == "" {
		return l, nil
	}
	return &loggedListener{Listener: l, cfg: cfg}, nil
}

// loggedListener applies traffic logging to every accepted connection.
type loggedListener struct {
	net.Listener
	cfg *config.Config
}

func (l *loggedListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return wrapTrafficLog(l.cfg, conn)
}
