package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/wsctl/internal/config"
	"github.com/danmuck/wsctl/internal/control"
	"github.com/danmuck/wsctl/internal/correlation"
	"github.com/danmuck/wsctl/internal/nukleus"
	"github.com/danmuck/wsctl/internal/protocol/schema"
	"github.com/danmuck/wsctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestParseArgs(t *testing.T) {
	opts, err := parseArgs([]string{
		"-transport", "websocket", "-timeout", "2s", "-protocol", "chat", "-path", "/ws",
		"route-client", "tcp://0.0.0.0:0", "tcp://example.com:443",
	}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.command != "route-client" || len(opts.args) != 2 || opts.timeout != 2*time.Second {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if !opts.hasExtension() || opts.ex != (control.RouteEx{Protocol: "chat", Path: "/ws"}) {
		t.Fatalf("unexpected extension: %+v", opts.ex)
	}

	if _, err := parseArgs(nil, io.Discard); err == nil {
		t.Fatalf("expected missing command error")
	}
}

func TestResolveConfigAddrFollowsTransport(t *testing.T) {
	opts := options{transport: config.TransportWebSocket, addr: "ws://10.1.1.1:7401/control"}
	cfg, err := opts.resolveConfig()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.WebSocketURL != "ws://10.1.1.1:7401/control" || cfg.StreamAddr != config.Default().StreamAddr {
		t.Fatalf("addr applied to wrong transport: %+v", cfg)
	}
	if _, err := (options{transport: "smoke"}).resolveConfig(); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func runJSON(t *testing.T, ctx context.Context, args ...string) result {
	t.Helper()
	var out bytes.Buffer
	if err := run(ctx, args, &out); err != nil {
		t.Fatalf("run %v: %v", args, err)
	}
	var res result
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}
	return res
}

func TestRunAgainstStreamNukleus(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	node := nukleus.NewNode("ws")
	go func() { _ = nukleus.ServeStream(ctx, ln, node) }()
	addr := ln.Addr().String()

	routed := runJSON(t, ctx, "-transport", "stream", "-addr", addr, "-scheme", "wss", "route-server", "tcp://0.0.0.0:8080")
	if routed.Command != "route-server" || routed.RouteID != 1 || routed.Nukleus != "ws" {
		t.Fatalf("unexpected route result: %+v", routed)
	}
	routes := node.Routes()
	if len(routes) != 1 || routes[0].Extension == nil || routes[0].Extension.Scheme != "wss" {
		t.Fatalf("unexpected node routes: %+v", routes)
	}

	unrouted := runJSON(t, ctx, "-addr", addr, "unroute", "1")
	if unrouted.RouteID != 1 || unrouted.CorrelationID == routed.CorrelationID {
		t.Fatalf("unexpected unroute result: %+v", unrouted)
	}

	var out bytes.Buffer
	err = run(ctx, []string{"-addr", addr, "unroute", "1"}, &out)
	var rerr *correlation.ReplyError
	if !errors.As(err, &rerr) || rerr.Code != schema.CodeUnknownRoute {
		t.Fatalf("expected unknown route failure, got %v", err)
	}
}

func TestRunAgainstWebSocketNukleus(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	node := nukleus.NewNode("ws")
	srv := httptest.NewServer(nukleus.Router(node, zerolog.Nop()))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + nukleus.ControlPath

	res := runJSON(t, ctx, "-transport", "websocket", "-addr", url, "freeze")
	if res.Command != "freeze" || !node.Status().Frozen {
		t.Fatalf("unexpected freeze result: %+v frozen=%v", res, node.Status().Frozen)
	}
	if err := run(ctx, []string{"-transport", "websocket", "-addr", url, "route-client", "tcp://0.0.0.0:0"}, io.Discard); err == nil {
		t.Fatalf("expected frozen nukleus to reject route")
	}
}
