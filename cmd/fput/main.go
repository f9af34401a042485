// Command fput is the transmitter personality: it connects to a receiver,
// segments a deterministic byte stream into RDMA writes against the
// targets the receiver advertises, and reports progress back over the
// wire.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/hyoklee/fabtsuite/fi"
	"github.com/hyoklee/fabtsuite/telemetry"
	"github.com/hyoklee/fabtsuite/xfer"
	"golang.org/x/sys/unix"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-r] [-g] [-provider <name>] [-metrics-addr <addr>] <address>\n", os.Args[0])
	os.Exit(1)
}

func main() {
	reregister := flag.Bool("r", false, "re-register payload memory regions on every transfer")
	contiguous := flag.Bool("g", false, "restrict RDMA writes to one remote segment each")
	provider := flag.String("provider", "", "restrict discovery to this fabric provider")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
	}
	peerAddr := flag.Arg(0)

	logger, err := telemetry.NewDevelopmentZapLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: build logger: %v\n", os.Args[0], err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := &xfer.Config{
		Reregister:       *reregister,
		Contiguous:       *contiguous,
		Logger:           logger,
		StructuredLogger: logger,
		Tracer:           telemetry.NewOTelTracer(otel.Tracer("github.com/hyoklee/fabtsuite/cmd/fput")),
	}
	if *provider != "" {
		cfg.Discover = append(cfg.Discover, fi.WithProvider(*provider))
	}

	if *metricsAddr != "" {
		metrics, err := telemetry.NewPrometheusMetrics(telemetry.PrometheusMetricsOptions{})
		if err != nil {
			logger.Errorf("build prometheus metrics: %v", err)
			os.Exit(1)
		}
		cfg.Metrics = metrics
		go serveMetrics(*metricsAddr, logger)
	}

	installShutdownHandler(logger)

	if err := xfer.Put(cfg, peerAddr); err != nil {
		logger.Errorf("fput: %v", err)
		os.Exit(1)
	}
}

// installShutdownHandler arranges for SIGHUP, SIGINT, SIGQUIT, and SIGTERM
// to set the transport engine's process-wide cancellation flag, mirroring
// the reference implementation's signal handler and its siglist of the
// same four signals.
func installShutdownHandler(logger *telemetry.ZapLogger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGHUP, unix.SIGINT, unix.SIGQUIT, unix.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Debugw("caught signal, cancelling", "signal", sig.String())
		xfer.RequestShutdown()
	}()
}

func serveMetrics(addr string, logger *telemetry.ZapLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Errorf("metrics server: %v", err)
	}
}
