package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/SafeSignal-Labs/beacon/internal/artifact"
	"github.com/SafeSignal-Labs/beacon/internal/capture"
)

// Gateway accepts client connections and speaks the capture wire protocol,
// translating messages into registry calls. One goroutine per connection;
// the read loop serializes a connection's requests, which is what makes a
// session's ingestion stream logically serial.
type Gateway struct {
	registry *capture.Registry
	listener net.Listener

	mu    sync.Mutex
	conns map[string]net.Conn
	wg    sync.WaitGroup
}

// New creates a gateway listening on addr (e.g. ":7311").
func New(addr string, registry *capture.Registry) (*Gateway, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		registry: registry,
		listener: listener,
		conns:    make(map[string]net.Conn),
	}, nil
}

// Addr returns the listener address in "host:port" format.
func (g *Gateway) Addr() string {
	return g.listener.Addr().String()
}

// Serve accepts connections until ctx is cancelled. Each accepted
// connection is handled on its own goroutine; when a connection's read
// loop exits for any reason, the registry's disconnect hook runs so an
// abandoned session is recovered or dropped.
func (g *Gateway) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		g.listener.Close()
		g.closeConns()
	}()

	for {
		conn, err := g.listener.Accept()
		if err != nil {
			// In-flight handlers finish (and run their disconnect hooks)
			// before the caller sees the listener stop, cancelled or not.
			g.closeConns()
			g.wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		connRef := uuid.New().String()
		g.track(connRef, conn)

		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.handleConn(ctx, connRef, conn)
		}()
	}
}

func (g *Gateway) track(connRef string, conn net.Conn) {
	g.mu.Lock()
	g.conns[connRef] = conn
	g.mu.Unlock()
}

func (g *Gateway) closeConns() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.conns {
		c.Close()
	}
}

func (g *Gateway) handleConn(ctx context.Context, connRef string, conn net.Conn) {
	defer func() {
		conn.Close()
		g.mu.Lock()
		delete(g.conns, connRef)
		g.mu.Unlock()
		// Runs after every exit. A cleanly ended session has no registry
		// entry left, so this is a no-op for it.
		g.registry.HandleDisconnect(connRef)
	}()

	slog.Debug("connection accepted", "conn", connRef, "remote", conn.RemoteAddr())

	for {
		var req Request
		if err := ReadMessage(conn, &req); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				slog.Warn("connection read failed", "conn", connRef, "error", err)
			}
			return
		}

		reply := g.dispatch(ctx, connRef, &req)
		if err := WriteMessage(conn, reply); err != nil {
			slog.Warn("connection write failed", "conn", connRef, "error", err)
			return
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, connRef string, req *Request) *Reply {
	switch req.Kind {
	case KindBegin:
		loc := artifact.Location{Latitude: req.Latitude, Longitude: req.Longitude}
		sessionID, err := g.registry.Begin(connRef, req.SessionID, req.UserID, loc)
		if err != nil {
			return errorReply(err)
		}
		return &Reply{Kind: KindAck, SessionID: sessionID}

	case KindChunk:
		index, err := g.registry.Ingest(connRef, req.Payload)
		if err != nil {
			return errorReply(err)
		}
		return &Reply{Kind: KindAck, Index: index}

	case KindEnd:
		outcome, err := g.registry.End(ctx, connRef, req.Cancelled)
		if err != nil && outcome == "" {
			return errorReply(err)
		}
		// A failed commit degrades to a discard; the client still gets a
		// definitive outcome rather than a dangling session.
		return &Reply{Kind: KindAck, Outcome: string(outcome)}

	default:
		return &Reply{Kind: KindError, Code: CodeInternal, Error: "unknown message kind: " + req.Kind}
	}
}

func errorReply(err error) *Reply {
	switch {
	case errors.Is(err, capture.ErrDuplicateSession):
		return &Reply{Kind: KindError, Code: CodeDuplicateSession, Error: err.Error()}
	case errors.Is(err, capture.ErrNoActiveSession):
		return &Reply{Kind: KindError, Code: CodeNoActiveSession, Error: err.Error()}
	default:
		return &Reply{Kind: KindError, Code: CodeInternal, Error: err.Error()}
	}
}
