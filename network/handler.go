package network

import (
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"UdpUtility/logger"
)

func NewHandler(name string, debug bool) *Handler {
	return NewHandlerWithLogger(name, debug, logger.New())
}

func NewHandlerWithLogger(name string, debug bool, l logger.Logger) *Handler {
	if l == nil {
		l = logger.Discard()
	}

	return &Handler{
		name:        name,
		debug:       debug,
		logger:      l,
		state:       stateUnopened,
		throttle:    newThrottle(DefaultSendPeriod, time.Now),
		destination: None,
		probe:       DefaultProbeAddress,
	}
}

// OpenLocalhost は 127.0.0.1:port にソケットを作る
// timeoutMs は受信待ちのタイムアウト(ms)
func (h *Handler) OpenLocalhost(port uint16, timeoutMs uint64) {
	if h.rejectOpen() {
		return
	}

	h.open(fmt.Sprintf("127.0.0.1:%d", port), timeoutMs, "Failed to create new socket on localhost")
}

// OpenAutoAddress は外向きのインターフェースのアドレスに空きポートでソケットを作る
func (h *Handler) OpenAutoAddress(timeoutMs uint64) {
	if h.rejectOpen() {
		return
	}

	bind := "0.0.0.0:0"
	ip, err := OutboundIP(h.probe)
	if err != nil {
		h.logger.Warn(h.name, fmt.Sprintf("Could not resolve outbound address, binding %s : %v", bind, err))
	} else {
		bind = net.JoinHostPort(ip.String(), "0")
	}

	h.open(bind, timeoutMs, "Failed to open socket")
}

// OpenWithAddress は指定したアドレスでソケットを作る
// addr は "192.168.0.50:64202" のようにポートまで含める
func (h *Handler) OpenWithAddress(addr string, timeoutMs uint64) {
	if h.rejectOpen() {
		return
	}

	h.open(addr, timeoutMs, "Failed to open socket")
}

func (h *Handler) rejectOpen() bool {
	switch h.state {
	case stateOpen:
		h.logger.Warn(h.name, "socket have already opened.")
		return true
	case stateClosed:
		h.logger.Warn(h.name, "socket have already closed.")
		return true
	}
	return false
}

func (h *Handler) open(addr string, timeoutMs uint64, failMessage string) {
	conn, err := listenUDP(addr)
	if err != nil {
		h.logger.Error(h.name, failMessage)
		h.logger.Error(h.name, err.Error())
		return
	}

	timeout, err := readTimeout(timeoutMs)
	if err != nil {
		conn.Close()
		h.logger.Error(h.name, failMessage)
		h.logger.Error(h.name, err.Error())
		return
	}

	h.conn = conn
	h.readTimeout = timeout
	h.state = stateOpen

	if h.debug {
		h.logger.Info(h.name, fmt.Sprintf("Open new socket on %s .", conn.LocalAddr()))
	}
}

func listenUDP(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", udpAddr)
}

func readTimeout(ms uint64) (time.Duration, error) {
	if ms == 0 {
		return 0, fmt.Errorf("%w: timeout must be greater than zero", ErrInvalidTimeout)
	}
	if ms > uint64(math.MaxInt64/int64(time.Millisecond)) {
		return 0, fmt.Errorf("%w: %dms is out of range", ErrInvalidTimeout, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// SetDestination は送信先を登録する。形式はここでは検査しない
func (h *Handler) SetDestination(addr string) {
	if h.debug {
		h.logger.Info(h.name, fmt.Sprintf("Set destination address : %s", addr))
	}
	h.destination = addr
}

// SetSendPeriod は送信周期をミリ秒で決める
func (h *Handler) SetSendPeriod(ms uint64) {
	if h.debug {
		h.logger.Info(h.name, fmt.Sprintf("Set send period : %dms", ms))
	}

	period := time.Duration(math.MaxInt64)
	if ms <= uint64(math.MaxInt64/int64(time.Millisecond)) {
		period = time.Duration(ms) * time.Millisecond
	}
	h.throttle.setPeriod(period)
}

func (h *Handler) SetMetrics(m *Metrics) {
	h.metrics = m
}

// Send は送信周期が経っていれば登録した送信先へ buf を1回だけ送る
// 周期内の呼び出しは何もせずに捨てる
func (h *Handler) Send(buf []byte) {
	if !h.throttle.allow() {
		h.metrics.incThrottled()
		return
	}

	if h.state != stateOpen {
		h.logger.Warn(h.name, "Socket is not opened.")
		h.metrics.incSendErrors()
		return
	}

	if err := h.write(buf); err != nil {
		h.logger.Error(h.name, "Failed to send buffer.")
		h.logger.Error(h.name, err.Error())
		h.metrics.incSendErrors()
		return
	}

	h.metrics.incSent()
	if h.debug {
		h.logger.Info(h.name, fmt.Sprintf("Send buffer : %s ", decodeText(buf)))
	}
}

func (h *Handler) write(buf []byte) error {
	raddr, err := net.ResolveUDPAddr("udp", h.destination)
	if err != nil {
		return err
	}

	_, err = h.conn.WriteToUDP(buf, raddr)
	return err
}

// Recv はデータグラムを1つ受信する
// 失敗した理由は ErrSocketNotOpen / ErrTimeout / その他で見分けられる
func (h *Handler) Recv() (string, error) {
	if h.state != stateOpen {
		h.logger.Warn(h.name, "Socket is not opened.")
		h.metrics.incReceiveErrors()
		return "", ErrSocketNotOpen
	}

	data, addr, err := h.read()
	if err != nil {
		h.logger.Error(h.name, "Failed to recv value.")
		h.logger.Error(h.name, err.Error())
		h.metrics.incReceiveErrors()

		if errors.Is(err, os.ErrDeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", fmt.Errorf("failed to receive: %w", err)
	}

	h.lastSender = addr
	h.metrics.addReceived(len(data))

	text := decodeText(data)
	if h.debug {
		h.logger.Info(h.name, fmt.Sprintf("Receive : %s", text))
	}

	return text, nil
}

func (h *Handler) read() ([]byte, *net.UDPAddr, error) {
	if err := h.conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
		return nil, nil, err
	}

	buffer := make([]byte, RecvBufferSize)
	n, addr, err := h.conn.ReadFromUDP(buffer)
	if err != nil {
		return nil, nil, err
	}

	return buffer[:n], addr, nil
}

// Receive は Recv と同じだが、失敗したときは None を返す
func (h *Handler) Receive() string {
	text, err := h.Recv()
	if err != nil {
		return None
	}
	return text
}

// Who は最後にデータを送ってきた相手のアドレスを返す
// まだ受信していなければ None
func (h *Handler) Who() string {
	if h.lastSender == nil {
		return None
	}
	return h.lastSender.String()
}

func (h *Handler) LocalAddr() string {
	if h.state != stateOpen {
		return None
	}
	return h.conn.LocalAddr().String()
}

func (h *Handler) IsOpen() bool {
	return h.state == stateOpen
}

func (h *Handler) Name() string {
	return h.name
}

// Close はソケットを解放する。閉じた Handler は開き直せない
func (h *Handler) Close() error {
	if h.state != stateOpen {
		return nil
	}

	err := h.conn.Close()
	h.conn = nil
	h.state = stateClosed

	if h.debug {
		h.logger.Info(h.name, "Close socket.")
	}
	return err
}

// decodeText は不正なバイト列を1つずつ U+FFFD に置き換えて文字列にする
func decodeText(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size <= 1 {
			sb.WriteRune(utf8.RuneError)
			data = data[invalidLen(data):]
			continue
		}
		sb.WriteRune(r)
		data = data[size:]
	}
	return sb.String()
}

// invalidLen は先頭の不正な並びの長さを返す
// 途中で切れたマルチバイト文字はまとめて1つとみなす
func invalidLen(p []byte) int {
	var need int
	lo, hi := byte(0x80), byte(0xBF)
	switch b := p[0]; {
	case b >= 0xC2 && b <= 0xDF:
		need = 1
	case b == 0xE0:
		need, lo = 2, 0xA0
	case b >= 0xE1 && b <= 0xEC, b == 0xEE, b == 0xEF:
		need = 2
	case b == 0xED:
		need, hi = 2, 0x9F
	case b == 0xF0:
		need, lo = 3, 0x90
	case b >= 0xF1 && b <= 0xF3:
		need = 3
	case b == 0xF4:
		need, hi = 3, 0x8F
	default:
		return 1
	}

	n := 1
	for n <= need && n < len(p) {
		if p[n] < lo || p[n] > hi {
			break
		}
		lo, hi = 0x80, 0xBF
		n++
	}
	return n
}
