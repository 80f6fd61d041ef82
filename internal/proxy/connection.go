// Package proxy implements the transparent relay sitting between an
// HMI/engineering client and the upstream PLC: accept, dial upstream,
// then for each request in turn run it through the frame codec, DPI,
// and policy before forwarding it or returning a synthesized exception.
package proxy

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/GoAethereal/cancel"

	"github.com/ironwall/modbusguard/internal/dpi"
	"github.com/ironwall/modbusguard/internal/frame"
	"github.com/ironwall/modbusguard/internal/logging"
	"github.com/ironwall/modbusguard/internal/policy"
)

// Config bounds the timeouts and endpoints a Connection operates under.
type Config struct {
	UpstreamAddr   string
	DialTimeout    time.Duration
	ClientIdleRead time.Duration
	UpstreamRead   time.Duration
	MaxFrameLength int
}

// DefaultConfig returns the stock timeouts: 5s upstream connect, 60s
// client idle read, 5s upstream response read. Callers wiring a
// configured connection_timeout_s override DialTimeout after the fact;
// the other two are not presently configurable.
func DefaultConfig(upstreamAddr string) Config {
	return Config{
		UpstreamAddr:   upstreamAddr,
		DialTimeout:    5 * time.Second,
		ClientIdleRead: 60 * time.Second,
		UpstreamRead:   5 * time.Second,
		MaxFrameLength: 260,
	}
}

// Connection drives one client socket through its full lifecycle:
// Accepting (handed to NewConnection already accepted) -> Upstream-Dialing
// -> Relaying -> Closing. It owns both the client and upstream sockets
// and closes both unconditionally on every exit path.
type Connection struct {
	cfg    Config
	client net.Conn
	policy *policy.Policy
	log    *logging.Logger
	met    *logging.Metrics
	stats  *Stats
	sess   *ConnectionStats

	mu       sync.Mutex
	upstream net.Conn
	closed   bool
}

// NewConnection wraps an already-accepted client socket, allocating the
// session's ConnectionStats with the peer address recorded once. Dialing
// the upstream PLC happens in Serve, not here, so construction never
// blocks. stats may be nil, in which case no process-wide counters are
// kept; the per-session counters always are.
func NewConnection(client net.Conn, cfg Config, pol *policy.Policy, log *logging.Logger, met *logging.Metrics, stats *Stats) *Connection {
	srcIP, srcPort := splitHostPort(client.RemoteAddr())
	return &Connection{
		cfg:    cfg,
		client: client,
		policy: pol,
		log:    log,
		met:    met,
		stats:  stats,
		sess:   &ConnectionStats{SrcIP: srcIP, SrcPort: srcPort},
	}
}

// Serve runs the connection to completion: dial upstream, relay requests
// sequentially until the client disconnects, ctx is canceled, or a fatal
// error occurs, then close both sockets. It never returns an error the
// caller must act on; all failures are terminal to this one connection.
// ctx is watched for the life of the call: on cancellation both sockets
// are closed immediately, which unblocks whichever read or write the
// relay loop is currently suspended on at its next suspension point,
// and also aborts an in-flight upstream dial rather than waiting out
// its DialTimeout.
func (c *Connection) Serve(ctx cancel.Context) {
	defer c.closeBoth()
	defer func() {
		c.log.Console().Infof("session closed: peer=%s:%d total=%d allowed=%d blocked=%d errors=%d",
			c.sess.SrcIP, c.sess.SrcPort, c.sess.Total, c.sess.Allowed, c.sess.Blocked, c.sess.Errored)
	}()

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-ctx.Done():
			c.closeBoth()
		case <-watchdogDone:
		}
	}()

	if c.met != nil {
		c.met.ConnectionsActive.Inc()
		defer c.met.ConnectionsActive.Dec()
	}

	dialCtx, cancelPromoted := cancel.Promote(ctx)
	defer cancelPromoted()
	dialCtx, cancelTimeout := context.WithTimeout(dialCtx, c.cfg.DialTimeout)
	defer cancelTimeout()
	upstream, err := new(net.Dialer).DialContext(dialCtx, "tcp", c.cfg.UpstreamAddr)
	if err != nil {
		c.logError(0, "upstream dial failed: "+err.Error())
		return
	}
	if !c.setUpstream(upstream) {
		upstream.Close()
		return
	}

	buf := make([]byte, c.cfg.MaxFrameLength)
	for {
		c.client.SetReadDeadline(time.Now().Add(c.cfg.ClientIdleRead))
		n, err := readADU(c.client, buf)
		if err != nil {
			if !errors.Is(err, errConnClosed) {
				c.logError(0, "client read error: "+err.Error())
			}
			return
		}

		adu := buf[:n]
		f, perr := frame.Parse(adu)
		if perr != nil {
			c.recordError(0, 0, perr.Error())
			continue
		}

		name := dpi.FunctionName(f.FunctionCode)
		if derr := dpi.Inspect(f); derr != nil {
			c.recordError(f.TransactionID, f.FunctionCode, derr.Error())
			continue
		}

		decision := c.policy.Evaluate(f, c.sess.SrcIP)
		if !decision.Allowed {
			c.recordBlock(f, name, decision)
			reply := frame.BuildException(f, frame.IllegalFunction)
			if _, err := c.client.Write(reply); err != nil {
				return
			}
			continue
		}

		c.recordAllow(f, name)
		if err := c.relayToUpstream(adu, f); err != nil {
			return
		}
	}
}

// relayToUpstream forwards adu byte-for-byte and relays the upstream's
// single reply back to the client unmodified. A plain read timeout on
// the upstream response is logged as a warning and the connection
// continues waiting for the client's next request; any error that
// leaves the upstream byte stream unreliable (errFrameTooLong, or the
// upstream connection being gone) ends the connection instead, since
// forwarding anything read after such an error risks relaying a
// corrupted or desynced frame to the client. Failure to write to
// either socket also ends the connection.
func (c *Connection) relayToUpstream(adu []byte, f *frame.Frame) error {
	if _, err := c.upstream.Write(adu); err != nil {
		if !isClosed(err) {
			c.logError(f.TransactionID, "upstream write failed: "+err.Error())
		}
		return err
	}

	c.upstream.SetReadDeadline(time.Now().Add(c.cfg.UpstreamRead))
	rbuf := make([]byte, c.cfg.MaxFrameLength)
	n, err := readADU(c.upstream, rbuf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			c.log.Console().Warnf("upstream response timed out for txn %d: %v", f.TransactionID, err)
			return nil
		}
		c.logError(f.TransactionID, "upstream response unreliable: "+err.Error())
		return err
	}

	_, err = c.client.Write(rbuf[:n])
	return err
}

// setUpstream records the dialed upstream socket, unless the connection
// was already closed (by the watchdog, on ctx cancellation) while the
// dial was in flight. It reports whether the socket was accepted.
func (c *Connection) setUpstream(upstream net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.upstream = upstream
	return true
}

// closeBoth closes the client and upstream sockets exactly once. It is
// called both from Serve's own unwind and from the cancellation
// watchdog, so double-entry must be safe.
func (c *Connection) closeBoth() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.client.Close()
	if c.upstream != nil {
		c.upstream.Close()
	}
}

func (c *Connection) recordAllow(f *frame.Frame, name string) {
	if c.met != nil {
		c.met.RequestsAllowed.Inc()
	}
	if c.stats != nil {
		c.stats.addAllowed()
	}
	c.sess.addAllowed()
	c.log.Log(logging.Record{
		TransactionID: f.TransactionID,
		SourceIP:      c.sess.SrcIP,
		SourcePort:    c.sess.SrcPort,
		FunctionCode:  f.FunctionCode,
		FunctionName:  name,
		Action:        logging.ActionAllow,
		Reason:        "allowed by policy",
		UnitID:        f.UnitID,
		DataLength:    len(f.Data),
	})
}

func (c *Connection) recordBlock(f *frame.Frame, name string, decision policy.Decision) {
	if c.met != nil {
		c.met.RequestsBlocked.WithLabelValues(string(decision.Category)).Inc()
		if decision.Category == policy.RateLimited {
			c.met.RateLimitTrips.Inc()
		}
	}
	if c.stats != nil {
		c.stats.addBlocked()
	}
	c.sess.addBlocked()
	c.log.Log(logging.Record{
		TransactionID: f.TransactionID,
		SourceIP:      c.sess.SrcIP,
		SourcePort:    c.sess.SrcPort,
		FunctionCode:  f.FunctionCode,
		FunctionName:  name,
		Action:        logging.ActionBlock,
		Reason:        decision.Reason,
		UnitID:        f.UnitID,
		DataLength:    len(f.Data),
	})
}

func (c *Connection) recordError(txn uint16, fc byte, reason string) {
	if c.met != nil {
		c.met.RequestsErrored.Inc()
	}
	if c.stats != nil {
		c.stats.addErrored()
	}
	c.sess.addErrored()
	c.log.Log(logging.Record{
		TransactionID: txn,
		SourceIP:      c.sess.SrcIP,
		SourcePort:    c.sess.SrcPort,
		FunctionCode:  fc,
		FunctionName:  dpi.FunctionName(fc),
		Action:        logging.ActionError,
		Reason:        reason,
	})
}

func (c *Connection) logError(txn uint16, msg string) {
	if c.met != nil {
		c.met.RequestsErrored.Inc()
	}
	if c.stats != nil {
		c.stats.addErrored()
	}
	c.sess.addErrored()
	c.log.Console().WithField("txn", txn).Error(msg)
}

func splitHostPort(addr net.Addr) (string, int) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.String(), 0
	}
	return tcpAddr.IP.String(), tcpAddr.Port
}
