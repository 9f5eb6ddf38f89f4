package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"herdtrack/internal/telemetry"
	"herdtrack/pkg/flood"
	"herdtrack/pkg/herd"
	"herdtrack/pkg/node"
	"herdtrack/pkg/places"
	"herdtrack/pkg/registry"
	"herdtrack/pkg/store"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <node-name>\n", os.Args[0])
		os.Exit(1)
	}
	name := os.Args[1]

	host := os.Getenv("HERD_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	topo := herd.DefaultHerdAt(host)

	self, ok := topo.Lookup(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown node name %q (herd: %s)\n",
			name, strings.Join(topo.Names(), ", "))
		os.Exit(1)
	}

	// Per-node append-only log file, plus stderr.
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{name + ".log", "stderr"}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Wire up store, flood peers, and the places gateway.
	st := store.New()
	peers := make([]flood.Peer, 0, len(self.Peers))
	for _, p := range topo.Peers(name) {
		peers = append(peers, flood.Peer{Name: p.Name, Addr: topo.Addr(p.Name)})
	}
	b := flood.New(peers, logger.Named("flood"))
	gw := places.NewGateway(os.Getenv("PLACES_URL"), os.Getenv("PLACES_API_KEY"))
	n := node.New(name, st, b, gw, logger.Named("node"))

	addr := topo.Addr(name)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("listen failed", zap.String("addr", addr), zap.Error(err))
		os.Exit(1)
	}

	// Optional prometheus endpoint.
	if maddr := os.Getenv("METRICS_ADDR"); maddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.MetricsHandler())
		go func() {
			if err := http.ListenAndServe(maddr, mux); err != nil {
				logger.Warn("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional, best-effort presence registration.
	if eps := os.Getenv("ETCD_ENDPOINTS"); eps != "" {
		reg, err := registry.Register(ctx, strings.Split(eps, ","), name, addr, 10,
			logger.Named("registry"))
		if err != nil {
			logger.Warn("etcd registration failed", zap.Error(err))
		} else {
			defer reg.Close()
		}
	}

	logger.Info("node listening",
		zap.String("node", name),
		zap.String("addr", addr),
		zap.Strings("peers", self.Peers))

	if err := n.Serve(ctx, ln); err != nil {
		logger.Error("server failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shut down", zap.String("node", name))
}
