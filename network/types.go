package network

import (
	"errors"
	"net"
	"time"

	"UdpUtility/logger"
)

const (
	// 値がないことを表す文字列
	None = "None"

	RecvBufferSize      = 1024
	DefaultSendPeriod   = time.Millisecond
	DefaultProbeAddress = "8.8.8.8:80"
	DefaultSTUNServer   = "stun.l.google.com:19302"
)

var (
	ErrSocketNotOpen  = errors.New("socket is not opened")
	ErrTimeout        = errors.New("receive timed out")
	ErrInvalidTimeout = errors.New("invalid read timeout")
)

type socketState int

const (
	stateUnopened socketState = iota
	stateOpen
	stateClosed
)

// Handler は1つのUDPソケットと送信先・送信周期・最後の送信元を管理する
type Handler struct {
	name   string
	debug  bool
	logger logger.Logger

	// conn は state が stateOpen のときだけ有効
	state       socketState
	conn        *net.UDPConn
	readTimeout time.Duration

	throttle    *throttle
	destination string
	lastSender  *net.UDPAddr

	metrics *Metrics

	// OpenAutoAddress が経路を調べる先
	probe string
}
