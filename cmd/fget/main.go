// Command fget is the receiver personality: it listens for a transmitter,
// advertises RDMA write targets, and verifies the bytes written into them
// against the reference text.
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
	fmt.Fprintf(os.Stderr, "usage: %s [-b <address>] [-r] [-provider <name>] [-metrics-addr <addr>]\n", os.Args[0])
	os.Exit(1)
}

func main() {
	bindAddr := flag.String("b", "", "address to bind the listening endpoint to")
	reregister := flag.Bool("r", false, "re-register payload memory regions on every transfer")
	provider := flag.String("provider", "", "restrict discovery to this fabric provider")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 0 {
		usage()
	}

	logger, err := telemetry.NewDevelopmentZapLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: build logger: %v\n", os.Args[0], err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := &xfer.Config{
		Reregister:       *reregister,
		Logger:           logger,
		StructuredLogger: logger,
		Tracer:           telemetry.NewOTelTracer(otel.Tracer("github.com/hyoklee/fabtsuite/cmd/fget")),
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

	if err := xfer.Get(cfg, *bindAddr); err != nil {
		logger.Errorf("fget: %v", err)
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
