package wsock

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/wsctl/internal/control"
	"github.com/danmuck/wsctl/internal/correlation"
	"github.com/danmuck/wsctl/internal/nukleus"
	"github.com/danmuck/wsctl/internal/transport"
	"github.com/danmuck/wsctl/internal/testutil/testlog"
	"github.com/gorilla/websocket"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newEncoder(t *testing.T, d *correlation.Dispatcher) *control.Encoder {
	t.Helper()
	scratch, err := control.NewScratch(control.DefaultScratchCapacity)
	if err != nil {
		t.Fatalf("new scratch: %v", err)
	}
	enc, err := control.NewEncoder("ws", scratch, d)
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}
	return enc
}

func TestClientRouteUnrouteOverWebSocket(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	node := nukleus.NewNode("ws")
	srv := httptest.NewServer(nukleus.WebSocketHandler(node))
	defer srv.Close()

	d := correlation.NewDispatcher()
	c, err := Dial(ctx, Config{URL: wsURL(srv)}, d)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	enc := newEncoder(t, d)

	cmd, id, err := enc.EncodeRoute(control.RoleClient, "ws#8080", "tcp#9090", &control.RouteEx{Protocol: "echo"})
	if err != nil {
		t.Fatalf("encode route: %v", err)
	}
	comp, _ := d.Register(id, cmd.Kind())
	err = c.Submit(ctx, cmd)
	cmd.Release()
	if err != nil {
		t.Fatalf("submit route: %v", err)
	}
	res, err := comp.Wait(ctx)
	if err != nil {
		t.Fatalf("wait route: %v", err)
	}

	cmd, id, err = enc.EncodeUnroute(res.RouteID + 100)
	if err != nil {
		t.Fatalf("encode unroute: %v", err)
	}
	comp, _ = d.Register(id, cmd.Kind())
	err = c.Submit(ctx, cmd)
	cmd.Release()
	if err != nil {
		t.Fatalf("submit unroute: %v", err)
	}
	_, err = comp.Wait(ctx)
	var rerr *correlation.ReplyError
	if !errors.As(err, &rerr) || rerr.Code == 0 {
		t.Fatalf("expected unknown route failure, got %v", err)
	}
}

func TestClientAbandonsOnServerClose(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = conn.ReadMessage()
		_ = conn.Close()
	}))
	defer srv.Close()

	d := correlation.NewDispatcher()
	c, err := Dial(ctx, Config{URL: wsURL(srv)}, d)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	cmd, id, err := newEncoder(t, d).EncodeFreeze()
	if err != nil {
		t.Fatalf("encode freeze: %v", err)
	}
	comp, _ := d.Register(id, cmd.Kind())
	err = c.Submit(ctx, cmd)
	cmd.Release()
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := comp.Wait(ctx); !errors.Is(err, transport.ErrConnectionLost) {
		t.Fatalf("expected connection lost, got %v", err)
	}

	cmd, _, err = newEncoder(t, d).EncodeFreeze()
	if err != nil {
		t.Fatalf("encode freeze: %v", err)
	}
	defer cmd.Release()
	if err := c.Submit(ctx, cmd); !errors.Is(err, transport.ErrConnectionLost) {
		t.Fatalf("expected submit after loss to fail, got %v", err)
	}
}

func TestDialRequiresURL(t *testing.T) {
	testlog.Start(t)
	if _, err := Dial(context.Background(), Config{}, correlation.NewDispatcher()); !errors.Is(err, ErrURLRequired) {
		t.Fatalf("expected ErrURLRequired, got %v", err)
	}
}
