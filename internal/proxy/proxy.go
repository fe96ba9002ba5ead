// Package proxy implements the accept/splice core: a TCP listener
// bound to the configured listen address, an admission path that
// consults the current strategy and route table, and a bidirectional
// byte-splice between client and backend (spec.md §4.4).
package proxy

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"

	"l4lb/internal/events"
	"l4lb/internal/lbcontext"
)

// bufferSize is the per-half-copier read buffer. spec.md §4.4 requires
// at least 4 KiB; 8 KiB is its recommendation.
const bufferSize = 8 * 1024

// Proxy owns the listener and the accept loop. It holds no state a
// reconfiguration needs to touch directly — everything that can
// change lives on the Context it was built with.
type Proxy struct {
	ctx        *lbcontext.Context
	listenAddr string
}

// New builds a Proxy bound to listenAddr. Call Run to start accepting.
func New(ctx *lbcontext.Context, listenAddr string) *Proxy {
	return &Proxy{ctx: ctx, listenAddr: listenAddr}
}

type acceptResult struct {
	conn net.Conn
	err  error
}

// Run drives the accept loop until shutdown fires or a fatal listener
// error occurs. It selects among the four events spec.md §4.4
// enumerates: shutdown, a config-driven rebind, an incoming
// connection, and a finished per-connection task (reaped here only to
// bound memory — the goroutine has already exited by the time it
// reports in).
func (p *Proxy) Run(shutdown <-chan struct{}) error {
	ln, err := net.Listen("tcp", p.listenAddr)
	if err != nil {
		return err
	}
	defer ln.Close()

	acceptCh := make(chan acceptResult)
	go acceptLoop(ln, acceptCh)

	configCh := p.ctx.Bundle().SubscribeConfigEvents(8)
	finished := make(chan uint64, 256)
	var nextConnID uint64

	slog.Info("proxy: listening", "addr", p.listenAddr)

	for {
		select {
		case <-shutdown:
			slog.Info("proxy: shutdown received, accept loop stopping")
			return nil

		case ev := <-configCh:
			if ev.ListenAddressChanged == "" {
				continue
			}
			newLn, err := net.Listen("tcp", ev.ListenAddressChanged)
			if err != nil {
				slog.Error("proxy: rebind failed, keeping previous listener",
					"addr", ev.ListenAddressChanged, "error", err)
				continue
			}
			old := ln
			ln = newLn
			p.listenAddr = ev.ListenAddressChanged
			old.Close() // in-flight connections survive via their own goroutines
			acceptCh = make(chan acceptResult)
			go acceptLoop(ln, acceptCh)
			slog.Info("proxy: rebound listener", "addr", ev.ListenAddressChanged)

		case res := <-acceptCh:
			if res.err != nil {
				slog.Warn("proxy: accept error", "error", res.err)
				continue
			}
			nextConnID++
			id := nextConnID
			go p.handleConnection(id, res.conn, finished)

		case <-finished:
			// Reaped purely to bound memory; the task has already exited.
		}
	}
}

// acceptLoop feeds every Accept result to out. It exits (and stops
// sending) once Accept returns an error, which happens when ln is
// closed — either on shutdown or during a rebind.
func acceptLoop(ln net.Listener, out chan<- acceptResult) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case out <- acceptResult{err: err}:
			default:
			}
			return
		}
		select {
		case out <- acceptResult{conn: conn}:
		default:
			// The loop that reads out has already moved to a new
			// listener/channel (a rebind raced this accept); drop the
			// connection rather than block forever on a channel nobody
			// reads anymore.
			conn.Close()
		}
	}
}

// handleConnection implements the admission path and, on a successful
// connect, the splice. It always closes conn before returning.
func (p *Proxy) handleConnection(id uint64, conn net.Conn, finished chan<- uint64) {
	defer func() {
		select {
		case finished <- id:
		default:
		}
	}()
	defer conn.Close()

	if max := p.ctx.MaxConnections(); max > 0 && p.ctx.TotalActiveConnections() >= max {
		return
	}

	picker := p.ctx.CurrentPicker()
	backendID, err := picker.Pick(p.ctx)
	if err != nil {
		return
	}

	b := p.ctx.RouteTable().GetByID(backendID)
	if b == nil {
		return // raced with a migration that dropped this backend
	}
	if !b.CanAcceptNew() {
		return
	}

	bundle := p.ctx.Bundle()
	bundle.SendConnectionEvent(events.ConnectionEvent{Kind: events.ConnOpened, BackendID: b.ID})
	p.ctx.IncrementConnection(b)

	connectTimeout := p.ctx.Timeouts().Connect
	backendConn, err := net.DialTimeout("tcp", b.Address, connectTimeout)
	if err != nil {
		p.ctx.DecrementConnection(b)
		kind := classifyConnectError(err)
		bundle.SendBackendFailure(events.BackendFailureEvent{BackendID: b.ID, Kind: kind})
		bundle.SendMetricsEvent(events.MetricsEvent{Kind: events.MetricRequestFailed, BackendID: b.ID})
		return
	}
	defer backendConn.Close()

	start := time.Now()
	bytesIn, bytesOut := splice(conn, backendConn)

	p.ctx.DecrementConnection(b)
	bundle.SendConnectionEvent(events.ConnectionEvent{Kind: events.ConnClosed, BackendID: b.ID})
	bundle.SendMetricsEvent(events.MetricsEvent{
		Kind:           events.MetricConnectionClosed,
		BackendID:      b.ID,
		DurationMicros: time.Since(start).Microseconds(),
		BytesIn:        bytesIn,
		BytesOut:       bytesOut,
	})
}

// splice copies bytes in both directions between client and backend
// until both halves have ended (EOF or error), and returns the byte
// counts observed in each direction. Both half-copiers always run to
// completion: a one-directional close (e.g. the client shutting its
// write side) does not end the other half early.
func splice(client, backend net.Conn) (bytesIn, bytesOut int64) {
	done := make(chan struct{}, 2)

	go func() {
		bytesIn = copyBuffered(backend, client)
		if c, ok := backend.(interface{ CloseWrite() error }); ok {
			c.CloseWrite()
		}
		done <- struct{}{}
	}()
	go func() {
		bytesOut = copyBuffered(client, backend)
		if c, ok := client.(interface{ CloseWrite() error }); ok {
			c.CloseWrite()
		}
		done <- struct{}{}
	}()

	<-done
	<-done
	return bytesIn, bytesOut
}

// copyBuffered reads into a fixed buffer and writes exactly what was
// read, per spec.md §4.4 ("writing the slice actually read until EOF
// or error"), rather than io.Copy's internal buffer pooling.
func copyBuffered(dst io.Writer, src io.Reader) int64 {
	buf := make([]byte, bufferSize)
	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total
			}
			total += int64(n)
		}
		if rerr != nil {
			return total
		}
	}
}

// classifyConnectError maps a dial error onto the failure kinds
// spec.md §4.4 enumerates: connection refused, timeout, and
// everything else as backend_closed.
func classifyConnectError(err error) events.FailureKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return events.Timeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return events.ConnectionRefused
	}
	return events.BackendClosed
}
