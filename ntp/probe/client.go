/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package probe sends single NTP client requests to a list of servers and
turns replies into offset and delay measurements.
*/
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	ntp "github.com/globalprobe/ntpmon/ntp/protocol"
)

// replyBufSize leaves room for extension fields after the 48 byte header
const replyBufSize = 1024

var errNoReply = errors.New("no reply")

// UDPConn describes what functionality we expect from UDP connection
type UDPConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// ListenFunc opens UDP socket bound to local address
type ListenFunc func(local netip.AddrPort, dscp int) (UDPConn, error)

// ClientConfig specifies Client run options
type ClientConfig struct {
	// NTP version to put into requests, 3 or 4
	Version uint8
	// how long we wait for reply to a single request
	Timeout time.Duration
	// how many more requests we send when there is no reply
	Retries int
	// server port, 123 unless testing
	Port int
	// DSCP to mark requests with, 0 leaves it alone
	DSCP int
}

// DefaultClientConfig returns ClientConfig initialized with default values
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Version: 3,
		Timeout: 3 * time.Second,
		Retries: 3,
		Port:    ntp.Port,
	}
}

// Client measures offset and delay to one server at a time.
// Every Probe opens and closes its own socket.
type Client struct {
	cfg    *ClientConfig
	listen ListenFunc
	now    func() time.Time
}

// NewClient initializes new Client
func NewClient(cfg *ClientConfig) *Client {
	return &Client{
		cfg:    cfg,
		listen: ListenUDP,
		now:    time.Now,
	}
}

// exchange is one matched request/reply pair
type exchange struct {
	sent time.Time
	rx   time.Time
	ts   *ntp.Timestamps
	meta *ntp.PacketMeta
}

// Probe sends request to the target and waits for matching reply,
// retrying on silence. It never returns nil.
func (c *Client) Probe(ctx context.Context, target Target) Outcome {
	startedAt := c.now()
	fail := func(err error) Outcome {
		return &Failure{Target: target, SentAt: startedAt, FailedAt: c.now(), Err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	server, err := target.AddrPort(c.cfg.Port)
	if err != nil {
		return fail(err)
	}
	req, err := ntp.EncodeRequest(c.cfg.Version)
	if err != nil {
		return fail(err)
	}

	local := netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(req.SrcPort))
	if server.Addr().Is6() {
		local = netip.AddrPortFrom(netip.IPv6Unspecified(), uint16(req.SrcPort))
	}
	conn, err := c.listen(local, c.cfg.DSCP)
	if err != nil {
		return fail(fmt.Errorf("opening socket: %w", err))
	}
	defer conn.Close()

	var (
		ex       *exchange
		attempts int
	)
	op := func() error {
		attempts++
		sent := c.now()
		origin := req.Stamp(sent)
		b, err := req.Bytes()
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := conn.WriteToUDPAddrPort(b, server); err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
		log.Debugf("[%s] client -> request attempt %d, origin %d", target.Address, attempts, origin)
		ex, err = c.waitReply(conn, server, origin)
		if err != nil {
			return err
		}
		ex.sent = sent
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(c.cfg.Retries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, errNoReply) {
			log.Debugf("[%s] no reply after %d attempts", target.Address, attempts)
			return &Timeout{Target: target, SentAt: startedAt, FailedAt: c.now(), Attempts: attempts}
		}
		return fail(err)
	}

	offset, delay := ntp.OffsetDelay(ex.ts)
	log.Debugf("[%s] server -> stratum %d, offset %.6f, delay %.6f", target.Address, ex.meta.Stratum, offset, delay)
	return &Success{
		Target:     target,
		SentAt:     ex.sent,
		ReceivedAt: ex.rx,
		Offset:     offset,
		Delay:      delay,
		Timestamps: *ex.ts,
		Meta:       *ex.meta,
	}
}

// waitReply reads until a reply to our request arrives or timeout expires.
// Packets from other addresses and replies to other requests are skipped.
func (c *Client) waitReply(conn UDPConn, server netip.AddrPort, origin ntp.Timestamp) (*exchange, error) {
	if err := conn.SetReadDeadline(c.now().Add(c.cfg.Timeout)); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("setting read deadline: %w", err))
	}
	buf := make([]byte, replyBufSize)
	for {
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, errNoReply
			}
			return nil, fmt.Errorf("reading reply: %w", err)
		}
		rx := c.now()
		if from.Addr().Unmap() != server.Addr() {
			log.Debugf("[%s] ignoring packet from %s", server.Addr(), from)
			continue
		}
		ts, meta, err := ntp.DecodeReply(buf[:n])
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if ts.Origin != origin {
			log.Debugf("[%s] ignoring reply with origin %d, expected %d", server.Addr(), ts.Origin, origin)
			continue
		}
		ts.Destination = ntp.NewTimestamp(rx)
		return &exchange{rx: rx, ts: ts, meta: meta}, nil
	}
}

// ListenUDP binds UDP socket to the local address.
// If the requested source port is taken we let the kernel pick one.
func ListenUDP(local netip.AddrPort, dscp int) (UDPConn, error) {
	network := "udp4"
	if local.Addr().Is6() {
		network = "udp6"
	}
	conn, err := net.ListenUDP(network, net.UDPAddrFromAddrPort(local))
	if err != nil && errors.Is(err, unix.EADDRINUSE) {
		log.Debugf("source port %d is busy, using ephemeral port", local.Port())
		conn, err = net.ListenUDP(network, net.UDPAddrFromAddrPort(netip.AddrPortFrom(local.Addr(), 0)))
	}
	if err != nil {
		return nil, err
	}
	if dscp > 0 {
		if err := enableDSCP(conn, local.Addr().Is6(), dscp); err != nil {
			conn.Close()
			return nil, fmt.Errorf("setting dscp %d: %w", dscp, err)
		}
	}
	return conn, nil
}

func enableDSCP(conn *net.UDPConn, v6 bool, dscp int) error {
	if v6 {
		return ipv6.NewConn(conn).SetTrafficClass(dscp << 2)
	}
	return ipv4.NewConn(conn).SetTOS(dscp << 2)
}
