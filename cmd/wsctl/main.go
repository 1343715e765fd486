package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/wsctl/internal/config"
	"github.com/danmuck/wsctl/internal/control"
	"github.com/danmuck/wsctl/internal/controller"
	"github.com/danmuck/wsctl/internal/correlation"
	"github.com/danmuck/wsctl/internal/logging"
	"github.com/danmuck/wsctl/internal/transport"
	"github.com/danmuck/wsctl/internal/transport/natsbus"
	"github.com/danmuck/wsctl/internal/transport/stream"
	"github.com/danmuck/wsctl/internal/transport/wsock"
	"github.com/rs/zerolog/log"
)

type options struct {
	configPath string
	transport  string
	addr       string
	nukleus    string
	timeout    time.Duration
	ex         control.RouteEx
	command    string
	args       []string
}

// result is the single JSON line printed on success.
type result struct {
	Command       string `json:"command"`
	Nukleus       string `json:"nukleus"`
	CorrelationID uint64 `json:"correlation_id"`
	RouteID       uint64 `json:"route_id,omitempty"`
}

const usage = `usage: wsctl [flags] <command> [args]

commands:
  route-server <local> [remote]   bind a server route
  route-client <local> [remote]   bind a client route
  unroute <route-id>              remove a route
  freeze                          stop accepting control commands

flags:
`

func main() {
	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "wsctl: %v\n", err)
		os.Exit(1)
	}
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("wsctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.configPath, "config", "", "path to config.toml")
	fs.StringVar(&opts.transport, "transport", "", "transport: stream | nats | websocket (overrides config)")
	fs.StringVar(&opts.addr, "addr", "", "nukleus address for the selected transport (overrides config)")
	fs.StringVar(&opts.nukleus, "nukleus", "", "target nukleus name (overrides config)")
	fs.DurationVar(&opts.timeout, "timeout", 0, "how long to wait for the reply (overrides config)")
	fs.StringVar(&opts.ex.Protocol, "protocol", "", "route extension: websocket sub-protocol")
	fs.StringVar(&opts.ex.Scheme, "scheme", "", "route extension: scheme")
	fs.StringVar(&opts.ex.Authority, "authority", "", "route extension: authority")
	fs.StringVar(&opts.ex.Path, "path", "", "route extension: path")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return options{}, errors.New("command required")
	}
	opts.command = rest[0]
	opts.args = rest[1:]
	return opts, nil
}

func (o options) hasExtension() bool {
	return o.ex != (control.RouteEx{})
}

func (o options) resolveConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.transport != "" {
		cfg.Transport = strings.TrimSpace(o.transport)
	}
	if o.nukleus != "" {
		cfg.Nukleus = strings.TrimSpace(o.nukleus)
	}
	if o.timeout > 0 {
		cfg.ReplyTimeout = o.timeout
	}
	if addr := strings.TrimSpace(o.addr); addr != "" {
		switch cfg.Transport {
		case config.TransportStream:
			cfg.StreamAddr = addr
		case config.TransportWebSocket:
			cfg.WebSocketURL = addr
		case config.TransportNATS:
			cfg.NATSURL = addr
		}
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseArgs(args, os.Stderr)
	if err != nil {
		return err
	}
	cfg, err := opts.resolveConfig()
	if err != nil {
		return err
	}

	d := correlation.NewDispatcher(correlation.WithSeed(uint64(time.Now().UnixNano())))
	t, err := dialTransport(ctx, cfg, d)
	if err != nil {
		return fmt.Errorf("connect %s: %w", cfg.Transport, err)
	}
	c, err := controller.New(controller.Config{Nukleus: cfg.Nukleus, ScratchCapacity: cfg.ScratchCapacity}, t, d)
	if err != nil {
		_ = t.Close()
		return err
	}
	defer c.Close()

	waitCtx, cancel := context.WithTimeout(ctx, cfg.ReplyTimeout)
	defer cancel()
	out, err := execute(waitCtx, c, opts)
	if err != nil {
		return err
	}
	out.Nukleus = c.Name()
	return json.NewEncoder(stdout).Encode(out)
}

func execute(ctx context.Context, c *controller.Controller, opts options) (result, error) {
	out := result{Command: opts.command}
	switch opts.command {
	case "route-server", "route-client":
		if len(opts.args) < 1 || len(opts.args) > 2 {
			return result{}, fmt.Errorf("%s: expected <local> [remote]", opts.command)
		}
		local := opts.args[0]
		remote := ""
		if len(opts.args) == 2 {
			remote = opts.args[1]
		}
		var (
			h   *controller.RouteHandle
			err error
		)
		switch {
		case opts.command == "route-server" && opts.hasExtension():
			h, err = c.RouteServerEx(ctx, local, remote, opts.ex)
		case opts.command == "route-server":
			h, err = c.RouteServer(ctx, local, remote)
		case opts.hasExtension():
			h, err = c.RouteClientEx(ctx, local, remote, opts.ex)
		default:
			h, err = c.RouteClient(ctx, local, remote)
		}
		if err != nil {
			return result{}, err
		}
		out.CorrelationID = h.CorrelationID()
		routeID, err := h.RouteID(ctx)
		if err != nil {
			h.Abandon()
			return result{}, err
		}
		out.RouteID = routeID
	case "unroute":
		if len(opts.args) != 1 {
			return result{}, errors.New("unroute: expected <route-id>")
		}
		routeID, err := strconv.ParseUint(opts.args[0], 10, 64)
		if err != nil {
			return result{}, fmt.Errorf("unroute: invalid route id %q: %w", opts.args[0], err)
		}
		comp, err := c.Unroute(ctx, routeID)
		if err != nil {
			return result{}, err
		}
		out.CorrelationID = comp.ID()
		out.RouteID = routeID
		if err := wait(ctx, comp); err != nil {
			return result{}, err
		}
	case "freeze":
		if len(opts.args) != 0 {
			return result{}, errors.New("freeze: takes no arguments")
		}
		comp, err := c.Freeze(ctx)
		if err != nil {
			return result{}, err
		}
		out.CorrelationID = comp.ID()
		if err := wait(ctx, comp); err != nil {
			return result{}, err
		}
	default:
		return result{}, fmt.Errorf("unknown command %q", opts.command)
	}
	log.Debug().Str("command", opts.command).Uint64("correlation_id", out.CorrelationID).Msg("wsctl completed")
	return out, nil
}

func wait(ctx context.Context, comp *correlation.Completion) error {
	if _, err := comp.Wait(ctx); err != nil {
		comp.Abandon()
		return err
	}
	return nil
}

func dialTransport(ctx context.Context, cfg config.Config, d *correlation.Dispatcher) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportStream:
		return stream.Dial(ctx, stream.Config{Address: cfg.StreamAddr, Session: cfg.Session}, d)
	case config.TransportWebSocket:
		return wsock.Dial(ctx, wsock.Config{URL: cfg.WebSocketURL, Session: cfg.Session}, d)
	case config.TransportNATS:
		return natsbus.Connect(natsbus.Config{
			URL:     cfg.NATSAddr(),
			Name:    "wsctl",
			Subject: cfg.Subject(),
			Session: cfg.Session,
		}, d)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
