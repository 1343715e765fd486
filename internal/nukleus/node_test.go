package nukleus

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/wsctl/internal/control"
	"github.com/danmuck/wsctl/internal/protocol/frame"
	"github.com/danmuck/wsctl/internal/protocol/schema"
	"github.com/danmuck/wsctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func route(id uint64, local string) control.Command {
	return control.Command{Kind: control.KindRoute, CorrelationID: id, Nukleus: "ws", Role: control.RoleServer, LocalAddress: local}
}

func TestNodeRouteUnrouteFreeze(t *testing.T) {
	testlog.Start(t)
	n := NewNode("ws")

	r1 := n.Handle(route(42, "ws#8080"))
	if r1.TypeID != schema.MsgRouted || r1.RouteID != 1 || r1.CorrelationID != 42 {
		t.Fatalf("unexpected first route reply: %+v", r1)
	}
	r2 := n.Handle(route(43, "ws#8081"))
	if r2.RouteID != 2 {
		t.Fatalf("route ids must increase: %+v", r2)
	}

	un := n.Handle(control.Command{Kind: control.KindUnroute, CorrelationID: 44, Nukleus: "ws", RouteID: 1})
	if un.TypeID != schema.MsgUnrouted || un.RouteID != 1 {
		t.Fatalf("unexpected unroute reply: %+v", un)
	}
	again := n.Handle(control.Command{Kind: control.KindUnroute, CorrelationID: 45, Nukleus: "ws", RouteID: 1})
	if !again.IsError() || again.Code != schema.CodeUnknownRoute {
		t.Fatalf("expected unknown route, got %+v", again)
	}

	fr := n.Handle(control.Command{Kind: control.KindFreeze, CorrelationID: 46, Nukleus: "ws"})
	if fr.TypeID != schema.MsgFrozen {
		t.Fatalf("unexpected freeze reply: %+v", fr)
	}
	after := n.Handle(route(47, "ws#8082"))
	if !after.IsError() || after.Code != schema.CodeFrozen || after.CorrelationID != 47 {
		t.Fatalf("expected frozen rejection, got %+v", after)
	}

	routes := n.Routes()
	if len(routes) != 1 || routes[0].ID != 2 || routes[0].Local != "ws#8081" {
		t.Fatalf("unexpected route table: %+v", routes)
	}
	st := n.Status()
	if !st.Frozen || st.Handled != 6 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestNodeRejectsOtherNukleus(t *testing.T) {
	testlog.Start(t)
	n := NewNode("ws")
	cmd := route(7, "tcp#80")
	cmd.Nukleus = "tcp"
	r := n.Handle(cmd)
	if !r.IsError() || r.Code != schema.CodeUnknownNukleus {
		t.Fatalf("expected unknown nukleus, got %+v", r)
	}
}

func TestHandleFrameMalformed(t *testing.T) {
	testlog.Start(t)
	n := NewNode("ws")
	r := n.HandleFrame(frame.Frame{
		Header:  frame.Header{CorrelationID: 5, TypeID: schema.MsgRoute},
		Payload: []byte{0, 0, 0},
	})
	if !r.IsError() || r.Code != schema.CodeMalformed || r.CorrelationID != 5 {
		t.Fatalf("expected malformed reply, got %+v", r)
	}
}

func TestRouterHealthAndRoutes(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	n := NewNode("ws")
	n.Handle(control.Command{
		Kind:          control.KindRoute,
		CorrelationID: 1,
		Nukleus:       "ws",
		Role:          control.RoleClient,
		LocalAddress:  "ws#8080",
		RemoteAddress: "tcp#9090",
		Extension:     &control.RouteEx{Protocol: "echo"},
	})
	r := Router(n, zerolog.Nop())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health status %d", w.Code)
	}
	var health map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health["nukleus"] != "ws" || health["routes"] != float64(1) {
		t.Fatalf("unexpected health body: %v", health)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/routes", nil))
	var body struct {
		Nukleus string  `json:"nukleus"`
		Routes  []Route `json:"routes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode routes: %v", err)
	}
	if len(body.Routes) != 1 || body.Routes[0].Role != "client" || body.Routes[0].Extension == nil || body.Routes[0].Extension.Protocol != "echo" {
		t.Fatalf("unexpected routes body: %+v", body)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status %d", w.Code)
	}
}

func TestDefaultSubject(t *testing.T) {
	if got := DefaultSubject(" ws "); got != "wsctl.nukleus.ws.control" {
		t.Fatalf("unexpected subject %q", got)
	}
}

func TestRouterCORS(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := Router(NewNode("ws"), zerolog.Nop(), "http://localhost:3000")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("allowed origin: status %d headers %v", w.Code, w.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected disallowed origin to be rejected, got %d", w.Code)
	}
}
