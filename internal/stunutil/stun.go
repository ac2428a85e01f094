// Package stunutil discovers the host's public address for the doctor
// command. Relay latency depends on the public egress, so doctor prints it.
package stunutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pion/stun/v3"
	"golang.org/x/sync/errgroup"
)

const (
	NATTypeUnknown          = "unknown"
	NATTypeSymmetric        = "symmetric"
	NATTypeConeOrRestricted = "cone_or_restricted"
)

// DefaultTimeout bounds each server query.
const DefaultTimeout = 3 * time.Second

// ServerResult is the outcome of one STUN binding request.
type ServerResult struct {
	Server string
	Mapped string
	Err    error
}

// Mapping is the combined discovery result.
type Mapping struct {
	PublicAddr string
	PublicIP   string
	NATType    string
	Results    []ServerResult
}

// Discover queries every server concurrently and classifies the NAT from
// the mapped addresses. It fails only when no server answered.
func Discover(ctx context.Context, servers []string, timeout time.Duration) (Mapping, error) {
	if len(servers) == 0 {
		return Mapping{NATType: NATTypeUnknown}, fmt.Errorf("no STUN servers provided")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	results := make([]ServerResult, len(servers))
	var g errgroup.Group
	for i, server := range servers {
		g.Go(func() error {
			addr, err := probeServer(ctx, server, timeout)
			results[i] = ServerResult{Server: server, Mapped: addr, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	m := Mapping{Results: results}
	var mapped []string
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Server, r.Err))
			continue
		}
		mapped = append(mapped, r.Mapped)
	}
	if len(mapped) == 0 {
		m.NATType = NATTypeUnknown
		return m, errors.Join(errs...)
	}

	m.PublicAddr = mapped[0]
	if host, _, err := net.SplitHostPort(mapped[0]); err == nil {
		m.PublicIP = host
	}
	m.NATType = Classify(mapped)
	return m, nil
}

// Classify infers NAT type by comparing mapped addresses from multiple servers.
func Classify(addrs []string) string {
	if len(addrs) < 2 {
		return NATTypeUnknown
	}
	for _, addr := range addrs[1:] {
		if addr != addrs[0] {
			return NATTypeSymmetric
		}
	}
	return NATTypeConeOrRestricted
}

func probeServer(ctx context.Context, server string, timeout time.Duration) (string, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return "", fmt.Errorf("empty STUN server")
	}
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}

	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return "", err
	}

	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	type reply struct {
		addr string
		err  error
	}
	done := make(chan reply, 1)
	send := func(r reply) {
		select {
		case done <- r:
		default:
		}
	}

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	go func() {
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				send(reply{err: res.Error})
				return
			}
			var addr stun.XORMappedAddress
			if err := addr.GetFrom(res.Message); err != nil {
				send(reply{err: err})
				return
			}
			send(reply{addr: addr.String()})
		})
		if err != nil {
			send(reply{err: err})
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case r := <-done:
		return r.addr, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
