// Package net opens the reliable transport an endpoint is configured for.
// It hides the choice between tcp, ws and kcp behind two functions, Dial
// and Listen, and applies traffic logging when configured.
package net

import (
	"context"
	"fmt"
	"net"

	"dominicbreuker/lanlink/pkg/config"
	"dominicbreuker/lanlink/pkg/log"
	"dominicbreuker/lanlink/pkg/transport"
	"dominicbreuker/lanlink/pkg/transport/kcp"
	"dominicbreuker/lanlink/pkg/transport/tcp"
	"dominicbreuker/lanlink/pkg/transport/ws"
)

// dialDependencies holds injectable dependencies for testing.
type dialDependencies struct {
	dialTCP func(context.Context, string, *config.Dependencies) (net.Conn, error)
	dialWS  func(context.Context, string) (net.Conn, error)
	dialKCP func(context.Context, string, *config.Dependencies) (net.Conn, error)
}

var realDialDeps = &dialDependencies{
	dialTCP: tcp.Dial,
	dialWS:  ws.Dial,
	dialKCP: kcp.Dial,
}

// Dial establishes a reliable stream to addr using cfg.Protocol.
func Dial(ctx context.Context, cfg *config.Config, addr string) (net.Conn, error) {
	return dial(ctx, cfg, addr, realDialDeps)
}

// Dialer returns Dial bound to cfg.
func Dialer(cfg *config.Config) transport.Dialer {
	return func(ctx context.Context, addr string) (net.Conn, error) {
		return Dial(ctx, cfg, addr)
	}
}

// dial is the internal implementation that accepts injected dependencies for testing.
func dial(ctx context.Context, cfg *config.Config, addr string, deps *dialDependencies) (net.Conn, error) {
	cfg.Logger.VerboseMsg("Dialing %s using protocol %s", addr, cfg.Protocol)

	var conn net.Conn
	var err error
	switch cfg.Protocol {
	case config.ProtoWS:
		conn, err = deps.dialWS(ctx, addr)
	case config.ProtoKCP:
		conn, err = deps.dialKCP(ctx, addr, cfg.Deps)
	default:
		conn, err = deps.dialTCP(ctx, addr, cfg.Deps)
	}
	if err != nil {
		cfg.Logger.VerboseMsg("Connection failed: %v", err)
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	return wrapTrafficLog(cfg, conn)
}

func wrapTrafficLog(cfg *config.Config, conn net.Conn) (net.Conn, error) {
	if cfg.TrafficLog == "" {
		return conn, nil
	}

	logged, err := log.NewLoggedConn(conn, cfg.TrafficLog)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("log.NewLoggedConn(%s): %w", cfg.TrafficLog, err)
	}
	return logged, nil
}
