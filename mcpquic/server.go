package mcpquic

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"

	"github.com/hazyhaar/domreplay/idgen"
	"github.com/hazyhaar/domreplay/kit"
)

// Listener accepts MCP-over-QUIC connections and serves each one as a
// session of a shared MCP server.
type Listener struct {
	listener  *quic.Listener
	mcpServer *mcp.Server
	newID     idgen.Generator
	logger    *slog.Logger
}

// Option configures a Listener.
type Option func(*Listener)

// WithIDGenerator sets the generator for MCP session IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *Listener) { l.newID = gen }
}

// NewListener binds addr. Serve starts accepting.
func NewListener(addr string, tlsCfg *tls.Config, mcpSrv *mcp.Server, logger *slog.Logger, opts ...Option) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ql, err := quic.ListenAddr(addr, tlsCfg, ProductionQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("mcpquic: listen %s: %w", addr, err)
	}
	l := &Listener{
		listener:  ql,
		mcpServer: mcpSrv,
		newID:     idgen.Prefixed("quic_", idgen.Default),
		logger:    logger,
	}
	for _, o := range opts {
		o(l)
	}
	logger.Info("mcpquic: listener ready", "addr", ql.Addr().String())
	return l, nil
}

// Addr is the bound UDP address.
func (l *Listener) Addr() net.Addr { return l.listener.Addr() }

// Serve accepts connections until ctx ends or the listener is closed.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		conn, err := l.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("mcpquic: accept: %w", err)
		}

		if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPNProtocolMCP {
			conn.CloseWithError(ConnErrorUnsupportedALPN, "unsupported ALPN: "+alpn)
			continue
		}
		go l.serveConn(ctx, conn)
	}
}

// Close stops accepting connections.
func (l *Listener) Close() error { return l.listener.Close() }

func (l *Listener) serveConn(ctx context.Context, conn *quic.Conn) {
	remote := conn.RemoteAddr().String()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		l.logger.Warn("mcpquic: accept stream", "remote", remote, "error", err)
		conn.CloseWithError(ConnErrorProtocolViolation, "stream accept failed")
		return
	}
	if err := ValidateMagicBytes(stream); err != nil {
		l.logger.Warn("mcpquic: rejected stream", "error", &ConnectionError{
			RemoteAddr: remote, Code: ConnErrorProtocolViolation, Err: err,
		})
		stream.CancelWrite(StreamErrorProtocolConfusion)
		stream.CancelRead(StreamErrorProtocolConfusion)
		conn.CloseWithError(ConnErrorProtocolViolation, "invalid magic bytes")
		return
	}

	sessionID := l.newID()
	log := l.logger.With("mcp_session", sessionID, "remote", remote)
	log.Info("mcpquic: session started")

	ctx = kit.WithTransport(ctx, "mcp_quic")
	ss, err := l.mcpServer.Connect(ctx, &serverTransport{stream: stream, sessionID: sessionID}, nil)
	if err != nil {
		log.Error("mcpquic: connect", "error", err)
		stream.Close()
		return
	}
	if err := ss.Wait(); err != nil {
		log.Debug("mcpquic: session wait", "error", err)
	}
	log.Info("mcpquic: session ended")
}

// serverTransport is an mcp.Transport over one accepted QUIC stream.
type serverTransport struct {
	stream    *quic.Stream
	sessionID string
}

func (t *serverTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	iot := &mcp.IOTransport{
		Reader: io.NopCloser(t.stream),
		Writer: streamWriteCloser{t.stream},
	}
	conn, err := iot.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &sessionConn{Connection: conn, id: t.sessionID}, nil
}

// sessionConn overrides the empty session ID of IO connections.
type sessionConn struct {
	mcp.Connection
	id string
}

func (c *sessionConn) SessionID() string { return c.id }

type streamWriteCloser struct{ stream *quic.Stream }

func (w streamWriteCloser) Write(p []byte) (int, error) { return w.stream.Write(p) }
func (w streamWriteCloser) Close() error                { return w.stream.Close() }
