package network

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics は Handler の送受信カウンタ
// nil のままでも安全に呼べる
type Metrics struct {
	sent          prometheus.Counter
	throttled     prometheus.Counter
	sendErrors    prometheus.Counter
	received      prometheus.Counter
	receiveErrors prometheus.Counter
	receivedBytes prometheus.Counter
}

func NewMetrics(registry prometheus.Registerer, handlerName string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "udputility",
			Subsystem:   "handler",
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"handler": handlerName},
		})
	}

	m := &Metrics{
		sent:          counter("sent_total", "Datagrams written to the socket"),
		throttled:     counter("throttled_total", "Sends dropped inside the send period"),
		sendErrors:    counter("send_errors_total", "Sends that failed or had no socket"),
		received:      counter("received_total", "Datagrams read from the socket"),
		receiveErrors: counter("receive_errors_total", "Receives that failed or timed out"),
		receivedBytes: counter("received_bytes_total", "Bytes read from the socket"),
	}

	for _, c := range []prometheus.Collector{m.sent, m.throttled, m.sendErrors, m.received, m.receiveErrors, m.receivedBytes} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return m, nil
}

func (m *Metrics) incSent() {
	if m != nil {
		m.sent.Inc()
	}
}

func (m *Metrics) incThrottled() {
	if m != nil {
		m.throttled.Inc()
	}
}

func (m *Metrics) incSendErrors() {
	if m != nil {
		m.sendErrors.Inc()
	}
}

func (m *Metrics) addReceived(n int) {
	if m != nil {
		m.received.Inc()
		m.receivedBytes.Add(float64(n))
	}
}

func (m *Metrics) incReceiveErrors() {
	if m != nil {
		m.receiveErrors.Inc()
	}
}
