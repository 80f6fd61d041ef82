package proxy

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/GoAethereal/cancel"

	"github.com/ironwall/modbusguard/internal/logging"
	"github.com/ironwall/modbusguard/internal/policy"
)

// Listener binds one TCP socket and spawns one Connection per accepted
// client, until its context is canceled.
type Listener struct {
	BindAddr string
	Conn     Config
	Policy   *policy.Policy
	Log      *logging.Logger
	Metrics  *logging.Metrics
	Stats    *Stats
}

// ListenAndServe binds BindAddr and serves on the resulting socket.
func (s *Listener) ListenAndServe(ctx cancel.Context) error {
	l, err := net.Listen("tcp", s.BindAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve accepts client connections from l until ctx is canceled, at
// which point the listening socket is closed and Serve waits for every
// in-flight connection to finish before returning. The same ctx fans
// out to every live Connection, so an interrupt closes their sockets
// too rather than waiting out their idle timeouts.
func (s *Listener) Serve(ctx cancel.Context, l net.Listener) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		l.Close()
	}()

	var acceptDelay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				wg.Wait()
				return context.Canceled
			default:
			}
			if acceptDelay == 0 {
				acceptDelay = 5 * time.Millisecond
			} else {
				acceptDelay *= 2
			}
			if max := time.Second; acceptDelay > max {
				acceptDelay = max
			}
			s.Log.Console().Warnf("accept error: %v; retrying in %v", err, acceptDelay)
			time.Sleep(acceptDelay)
			continue
		}
		acceptDelay = 0

		if s.Metrics != nil {
			s.Metrics.ConnectionsAccepted.Inc()
		}

		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			c := NewConnection(conn, s.Conn, s.Policy, s.Log, s.Metrics, s.Stats)
			c.Serve(ctx)
		}(conn)
	}
}
