package server

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/host"
	"github.com/ValentinKolb/dkvmod/rpc/common"
	"github.com/ValentinKolb/dkvmod/rpc/resp"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

var Logger = logger.GetLogger("rpc")

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("rpc server closed")

const defaultBufferSize = 64 * 1024

// Server serves the commands of a host.Server over RESP. Every connection gets its own
// host session; commands of one connection run in order, pipelined replies are flushed
// together.
//
// Usage:
//
//	s := server.NewRESPServer(h, config)
//	if err := s.Listen(); err != nil {
//		panic(err)
//	}
//	go s.Serve()
//	defer s.Close()
type Server struct {
	host     *host.Server
	config   common.ServerConfig
	listener net.Listener
	conns    *xsync.MapOf[net.Conn, *host.Session]
	closed   atomic.Bool
	wg       sync.WaitGroup

	metrics  *metrics.Set
	accepted *metrics.Counter
	commands *metrics.Counter
}

// NewRESPServer creates a server for h. The endpoint and the write timeout are taken from
// config.
func NewRESPServer(h *host.Server, config common.ServerConfig) *Server {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	set := metrics.NewSet()
	s := &Server{
		host:     h,
		config:   config,
		conns:    xsync.NewMapOf[net.Conn, *host.Session](),
		metrics:  set,
		accepted: set.NewCounter("dkvmod_rpc_connections_total"),
		commands: set.NewCounter("dkvmod_rpc_commands_total"),
	}
	set.NewGauge("dkvmod_rpc_open_connections", func() float64 {
		return float64(s.conns.Size())
	})
	return s
}

// WriteMetrics writes the connection metrics in Prometheus text format.
func (s *Server) WriteMetrics(w io.Writer) {
	s.metrics.WritePrometheus(w)
}

// Listen opens the listener on the configured endpoint.
func (s *Server) Listen() error {
	network, address := "tcp", s.config.Endpoint
	if strings.HasPrefix(address, "unix://") {
		network, address = "unix", strings.TrimPrefix(address, "unix://")
		_ = os.Remove(address)
	}
	listener, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener
	Logger.Infof("Starting RESP server on %s (%s)", listener.Addr(), network)
	return nil
}

// Addr returns the address of the listener.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until Close is called. Listen must have been called.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("rpc server is not listening")
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}
		s.accepted.Inc()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Close stops accepting, closes all connections and waits for their handlers.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.conns.Range(func(conn net.Conn, _ *host.Session) bool {
		_ = conn.Close()
		return true
	})
	s.wg.Wait()
	Logger.Infof("RESP server closed")
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection runs the commands of one connection
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	sess := s.host.NewSession()
	s.conns.Store(conn, sess)
	if s.closed.Load() {
		// Close raced with the accept
		_ = conn.Close()
	}
	defer func() {
		s.conns.Delete(conn)
		_ = conn.Close()
	}()

	timeout := s.config.Timeout()
	r := resp.NewReader(conn, defaultBufferSize)
	w := resp.NewWriter(conn, defaultBufferSize)

	flush := func() error {
		if timeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				return fmt.Errorf("failed to set write deadline: %w", err)
			}
		}
		return w.Flush()
	}

	Logger.Debugf("Session %d connected from %s", sess.ID(), conn.RemoteAddr())
	for {
		argv, err := r.ReadCommand()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), s.closed.Load():
				Logger.Debugf("Session %d closed by client", sess.ID())
			case errors.Is(err, resp.ErrProtocol):
				_ = w.WriteReply(host.ErrorReply("ERR Protocol error: " + strings.TrimPrefix(err.Error(), "protocol error: ")))
				_ = flush()
				Logger.Warningf("Session %d: %v", sess.ID(), err)
			default:
				Logger.Errorf("Session %d: error reading command: %v", sess.ID(), err)
			}
			return
		}
		s.commands.Inc()

		quit := strings.EqualFold(string(argv[0]), "quit")
		var reply host.Reply
		if quit {
			reply = host.StatusReply("OK")
		} else {
			start := time.Now()
			reply = s.host.Exec(sess, argv)
			Logger.Debugf("Session %d: %s took %s", sess.ID(), argv[0], time.Since(start))
		}

		if err := w.WriteReply(reply); err != nil {
			Logger.Errorf("Session %d: failed to encode reply: %v", sess.ID(), err)
			return
		}
		if quit || r.Buffered() == 0 {
			if err := flush(); err != nil {
				Logger.Errorf("Session %d: failed to write reply: %v", sess.ID(), err)
				return
			}
		}
		if quit {
			return
		}
	}
}
