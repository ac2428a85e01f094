package probe

import (
	"context"
	"errors"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// ErrNoReply means the echo request timed out.
var ErrNoReply = errors.New("no echo reply")

// Pinger sends a single echo request and returns the round trip time.
type Pinger interface {
	Ping(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error)
}

// ICMPPinger is the pro-bing backed Pinger. Privileged selects raw sockets;
// otherwise unprivileged datagram ICMP is used (Linux needs
// net.ipv4.ping_group_range to include the caller).
type ICMPPinger struct {
	Privileged bool
}

func (p ICMPPinger) Ping(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
	pinger, err := probing.NewPinger(addr)
	if err != nil {
		return 0, err
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(p.Privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		return 0, err
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 || len(stats.Rtts) == 0 {
		return 0, ErrNoReply
	}
	return stats.Rtts[0], nil
}
