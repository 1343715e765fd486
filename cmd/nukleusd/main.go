package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/wsctl/internal/config"
	"github.com/danmuck/wsctl/internal/logging"
	"github.com/danmuck/wsctl/internal/nukleus"
	"github.com/danmuck/wsctl/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml")
	name := flag.String("nukleus", "", "nukleus name (overrides config)")
	flag.Parse()

	logging.ConfigureRuntime()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nukleusd: %v\n", err)
		os.Exit(1)
	}
	if strings.TrimSpace(*name) != "" {
		cfg.Nukleus = strings.TrimSpace(*name)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := serve(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "nukleusd: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	node := nukleus.NewNode(cfg.Nukleus)
	logger := observability.ComponentLogger("nukleusd")

	ln, err := listen(cfg)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{
		Addr:              cfg.ListenHTTP,
		Handler:           nukleus.Router(node, logger, cfg.CORSOrigins...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return nukleus.ServeStream(gctx, ln, node)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenHTTP).Msg("nukleusd http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if url := strings.TrimSpace(cfg.NATSURL); url != "" {
		g.Go(func() error {
			return serveNATS(gctx, url, cfg.Subject(), node)
		})
	}

	log.Info().Str("nukleus", node.Name()).Msg("nukleusd started")
	err = g.Wait()
	log.Info().Err(err).Msg("nukleusd stopped")
	return err
}

func listen(cfg config.Config) (net.Listener, error) {
	if !cfg.Session.TLS.Enabled {
		return net.Listen("tcp", cfg.ListenStream)
	}
	tlsCfg, err := cfg.Session.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", cfg.ListenStream, tlsCfg)
}

func serveNATS(ctx context.Context, url, subject string, node *nukleus.Node) error {
	nc, err := nats.Connect(url,
		nats.Name("nukleusd-"+node.Name()),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nukleusd nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nukleusd nats reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", url, err)
	}
	defer nc.Close()
	sub, err := nukleus.ServeNATS(nc, subject, node)
	if err != nil {
		return err
	}
	<-ctx.Done()
	return sub.Drain()
}
