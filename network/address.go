package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun"
)

// OutboundIP は probe へ向かうときにOSが選ぶローカルIPを返す
// UDPなので実際にはパケットは送られない
func OutboundIP(probe string) (net.IP, error) {
	conn, err := net.Dial("udp", probe)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve outbound address: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return addr.IP, nil
}

// ExternalAddress はSTUNで外から見たアドレスを取得する
// ctx に期限があれば再送間隔をそこから決める
func ExternalAddress(ctx context.Context, server string) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", server)
	if err != nil {
		return "", fmt.Errorf("failed to dial stun server: %w", err)
	}

	var opts []stun.ClientOption
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, stun.WithRTO(stunRTO(time.Until(deadline))))
	}

	c, err := stun.NewClient(conn, opts...)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("failed to create stun client: %w", err)
	}
	defer c.Close()

	type bindingResult struct {
		addr string
		err  error
	}
	results := make(chan bindingResult, 1)

	err = c.Start(stun.MustBuild(stun.TransactionID, stun.BindingRequest), func(e stun.Event) {
		var r bindingResult
		if e.Error != nil {
			r.err = e.Error
		} else {
			var xor stun.XORMappedAddress
			if r.err = xor.GetFrom(e.Message); r.err == nil {
				r.addr = xor.String()
			}
		}
		select {
		case results <- r:
		default:
		}
	})
	if err != nil {
		return "", fmt.Errorf("stun request failed: %w", err)
	}

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("stun request aborted: %w", ctx.Err())
	case r := <-results:
		if errors.Is(r.err, stun.ErrTransactionTimeOut) {
			return "", fmt.Errorf("stun server did not answer: %w", r.err)
		}
		if r.err != nil {
			return "", fmt.Errorf("stun request failed: %w", r.err)
		}
		return r.addr, nil
	}
}

// stunRTO は残り時間の中で再送が終わるように間隔を縮める
func stunRTO(remaining time.Duration) time.Duration {
	const (
		minRTO     = 10 * time.Millisecond
		defaultRTO = 300 * time.Millisecond
	)

	rto := remaining / 20
	if rto < minRTO {
		return minRTO
	}
	if rto > defaultRTO {
		return defaultRTO
	}
	return rto
}
