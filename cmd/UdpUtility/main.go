package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"UdpUtility/network"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	// コマンドライン引数の解析
	name := flag.String("name", "UdpHandler", "Name shown in log lines")
	debug := flag.Bool("debug", true, "Enable debug log")
	mode := flag.String("mode", "auto", "Socket mode: localhost, auto or addr")
	port := flag.Uint("port", 64202, "Local port for localhost mode")
	addr := flag.String("addr", "", "Local address for addr mode (host:port)")
	timeout := flag.Uint64("timeout", 1000, "Receive timeout in ms")
	dest := flag.String("dest", "192.168.11.65:64201", "Destination address")
	period := flag.Uint64("period", 500, "Send period in ms")
	message := flag.String("message", "Hello", "Payload to send")
	listen := flag.Bool("listen", false, "Receive instead of send")
	external := flag.Bool("external", false, "Print the external address found by STUN")
	stunServer := flag.String("stun", network.DefaultSTUNServer, "STUN server")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	flag.Parse()

	// ロガーの設定
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *external {
		printExternalAddress(ctx, *stunServer)
	}

	handler := network.NewHandler(*name, *debug)
	defer handler.Close()

	if *metricsAddr != "" {
		metrics, err := network.NewMetrics(prometheus.DefaultRegisterer, *name)
		if err != nil {
			logrus.Fatalf("Failed to register metrics: %v", err)
		}
		handler.SetMetrics(metrics)
		serveMetrics(*metricsAddr)
	}

	switch *mode {
	case "localhost":
		if *port > 65535 {
			logrus.Fatalf("Invalid port: %d", *port)
		}
		handler.OpenLocalhost(uint16(*port), *timeout)
	case "addr":
		handler.OpenWithAddress(*addr, *timeout)
	default:
		handler.OpenAutoAddress(*timeout)
	}

	if !handler.IsOpen() {
		logrus.Fatal("Failed to open socket")
	}

	handler.SetSendPeriod(*period)
	handler.SetDestination(*dest)

	if *listen {
		receiveLoop(ctx, handler)
		return
	}
	sendLoop(ctx, handler, []byte(*message))
}

func sendLoop(ctx context.Context, handler *network.Handler, payload []byte) {
	for ctx.Err() == nil {
		handler.Send(payload)
		time.Sleep(time.Millisecond)
	}
}

func receiveLoop(ctx context.Context, handler *network.Handler) {
	fmt.Printf("Listening on %s\n", handler.LocalAddr())

	for ctx.Err() == nil {
		text, err := handler.Recv()
		if err != nil {
			if errors.Is(err, network.ErrTimeout) {
				continue
			}
			logrus.Error(err)
			return
		}
		fmt.Printf("[%s] %s: %s\n", handler.Name(), handler.Who(), text)
	}
}

// serveMetrics は /metrics でカウンタを公開する
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		logrus.Infof("Serving metrics on %s/metrics", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("Metrics server stopped: %v", err)
		}
	}()
}

func printExternalAddress(ctx context.Context, server string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	external, err := network.ExternalAddress(ctx, server)
	if err != nil {
		logrus.Warnf("Failed to get external address: %v", err)
		return
	}
	fmt.Printf("External address: %s\n", external)
}
