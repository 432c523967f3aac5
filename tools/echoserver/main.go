// Package main runs the awstest echo service as a standalone process so
// clients in other processes can be tested against it.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Thejuampi/eventstreamrpc-go/eventstreamrpc"
	"github.com/Thejuampi/eventstreamrpc-go/eventstreamrpc/echotest"
)

var (
	flagAddr      = flag.String("addr", fmt.Sprintf("127.0.0.1:%d", echotest.DefaultPort), "TCP listen address (empty disables)")
	flagUnix      = flag.String("unix", "", "unix socket path to listen on as well")
	flagWebSocket = flag.String("ws", "", "websocket listen address; clients connect to ws://<addr>/rpc")
	flagAdmin     = flag.String("admin", "", "address serving /metrics (empty disables)")
	flagLogLevel  = flag.String("log-level", "info", "log level: trace, debug, info, warn, error")
)

func main() {
	flag.Parse()

	level, err := logrus.ParseLevel(*flagLogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "echoserver: %v\n", err)
		os.Exit(2)
	}
	logger := eventstreamrpc.InitLogger(level)
	log := logrus.NewEntry(logger)

	server := echotest.NewServer(log)
	if err := listen(server, log); err != nil {
		log.WithError(err).Fatal("echoserver: failed to listen")
	}

	if *flagAdmin != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(newServerCollector(server))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			log.WithField("addr", *flagAdmin).Info("echoserver: admin API listening")
			if err := http.ListenAndServe(*flagAdmin, mux); err != nil {
				log.WithError(err).Error("echoserver: admin API stopped")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("echoserver: shutting down")
	_ = server.Close()
	log.WithField("served", server.ConnectionsAccepted()).Info("echoserver: stopped")
}

func listen(server *echotest.Server, log *logrus.Entry) error {
	if *flagAddr == "" && *flagUnix == "" && *flagWebSocket == "" {
		return errors.New("nothing to listen on")
	}
	if *flagAddr != "" {
		listener, err := server.Listen("tcp", *flagAddr)
		if err != nil {
			return err
		}
		log.WithField("addr", listener.Addr().String()).Info("echoserver: listening")
	}
	if *flagUnix != "" {
		_ = os.Remove(*flagUnix)
		listener, err := server.Listen("unix", *flagUnix)
		if err != nil {
			return err
		}
		log.WithField("path", listener.Addr().String()).Info("echoserver: listening")
	}
	if *flagWebSocket != "" {
		listener, err := net.Listen("tcp", *flagWebSocket)
		if err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/rpc", server)
		go func() {
			if err := http.Serve(listener, mux); err != nil && !errors.Is(err, net.ErrClosed) {
				log.WithError(err).Error("echoserver: websocket listener stopped")
			}
		}()
		log.WithField("addr", listener.Addr().String()).Info("echoserver: websocket listening")
	}
	return nil
}

// serverCollector reports connection counters of a running echo server.
type serverCollector struct {
	server   *echotest.Server
	accepted *prometheus.Desc
	active   *prometheus.Desc
}

func newServerCollector(server *echotest.Server) *serverCollector {
	return &serverCollector{
		server:   server,
		accepted: prometheus.NewDesc("echoserver_connections_accepted_total", "Connections accepted since start.", nil, nil),
		active:   prometheus.NewDesc("echoserver_connections_active", "Connections currently open.", nil, nil),
	}
}

func (collector *serverCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- collector.accepted
	ch <- collector.active
}

func (collector *serverCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(collector.accepted, prometheus.CounterValue, float64(collector.server.ConnectionsAccepted()))
	ch <- prometheus.MustNewConstMetric(collector.active, prometheus.GaugeValue, float64(collector.server.ActiveConnections()))
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "echoserver: awstest echo service over event-stream RPC\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}
