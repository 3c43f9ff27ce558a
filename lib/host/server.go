package host

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/cluster"
	"github.com/ValentinKolb/dkvmod/lib/db"
	"github.com/ValentinKolb/dkvmod/lib/raw"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var log = logger.GetLogger("host")

// moduleLog receives the messages modules write through Log
var moduleLog = logger.GetLogger("module")

// ErrClosed is returned by operations on a closed server.
var ErrClosed = errors.New("server closed")

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config configures a Server
type Config struct {
	Databases      int           // Number of logical databases (0 = 16)
	MaxKeys        int           // Key limit for deny-oom commands (0 = unlimited)
	ExpireInterval time.Duration // Interval of the active expiry cycle (0 = 100ms, <0 = disabled)
	ExpireBatch    int           // Keys removed per database and cycle (0 = 1000)
	SnapshotPath   string        // File written by SAVE (empty = SAVE disabled)
	Clock          db.Clock      // Time source in unix ms (nil = wall clock)
	Bus            cluster.Bus   // Cluster bus (nil = clustering disabled)
}

// DefaultConfig returns the default server configuration
func DefaultConfig() Config {
	return Config{
		Databases:      16,
		ExpireInterval: 100 * time.Millisecond,
		ExpireBatch:    1000,
	}
}

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// Server is an embeddable in-process key-value server. It implements raw.Host for the
// modules it loads.
//
// Every command, module callback and cluster message runs under one loop lock, so the
// keyspace and the handle tables need no further synchronization.
type Server struct {
	mu     sync.Mutex // loop lock
	config Config
	dbs    []*db.Keyspace

	commands  *xsync.MapOf[string, *command]
	modules   map[string]*loadedModule
	receivers *xsync.MapOf[uint8, receiver]
	handles   handleTable
	sinks     []Sink

	bus          cluster.Bus
	clusterFlags atomic.Uint64

	metrics     *hostMetrics
	nextSession atomic.Uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// Session is the state of one client connection: the selected database.
type Session struct {
	id uint64
	db int
}

// ID returns the session id.
func (sess *Session) ID() uint64 { return sess.id }

// DB returns the selected database.
func (sess *Session) DB() int { return sess.db }

// New creates a server and starts its background expiry cycle.
func New(config Config) *Server {
	def := DefaultConfig()
	if config.Databases <= 0 {
		config.Databases = def.Databases
	}
	if config.ExpireInterval == 0 {
		config.ExpireInterval = def.ExpireInterval
	}
	if config.ExpireBatch <= 0 {
		config.ExpireBatch = def.ExpireBatch
	}
	if config.Clock == nil {
		config.Clock = db.SystemClock
	}

	s := &Server{
		config:    config,
		dbs:       make([]*db.Keyspace, config.Databases),
		commands:  xsync.NewMapOf[string, *command](),
		modules:   make(map[string]*loadedModule),
		receivers: xsync.NewMapOf[uint8, receiver](),
		handles:   newHandleTable(),
		bus:       config.Bus,
		metrics:   newHostMetrics(),
		stopCh:    make(chan struct{}),
	}
	for i := range s.dbs {
		s.dbs[i] = db.NewKeyspace(config.Clock)
	}
	s.metrics.registerGauges(s)
	registerNatives(s)

	if s.bus != nil {
		s.bus.SetHandler(s.onClusterMessage)
	}
	s.startExpiry()

	log.Infof("server started with %d databases, %d native commands", len(s.dbs), s.commands.Size())
	return s
}

// Close stops the background work and detaches the cluster bus. The bus itself is owned
// by the caller.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopCh)
	if s.bus != nil {
		s.bus.SetHandler(nil)
	}
	s.receivers.Clear()
	s.mu.Unlock()

	s.wg.Wait()
	log.Infof("server closed")
	return nil
}

// NewSession creates the state of a new client connection.
func (s *Server) NewSession() *Session {
	return &Session{id: s.nextSession.Add(1)}
}

// AddSink registers a receiver of the propagation stream.
func (s *Server) AddSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Config returns the configuration the server runs with.
func (s *Server) Config() Config {
	return s.config
}

// --------------------------------------------------------------------------
// Command execution
// --------------------------------------------------------------------------

// Exec runs argv for the client session sess and returns the reply.
//
// Thread-safety: This method is thread-safe; commands are serialized by the loop lock.
func (s *Server) Exec(sess *Session, argv CmdLine) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrorReply("ERR server is shutting down")
	}
	return s.execTop(sess, argv, false)
}

// ExecStrings is Exec with string arguments.
func (s *Server) ExecStrings(sess *Session, argv ...string) Reply {
	line := make(CmdLine, len(argv))
	for i, a := range argv {
		line[i] = []byte(a)
	}
	return s.Exec(sess, line)
}

// execTop runs a top level command and propagates its effects. replaying disables
// propagation for commands coming from the replication stream.
func (s *Server) execTop(sess *Session, argv CmdLine, replaying bool) Reply {
	if len(argv) == 0 {
		return ErrorReply("ERR empty command")
	}
	name := strings.ToLower(string(argv[0]))
	cmd, ok := s.commands.Load(name)
	if !ok {
		return errorf("ERR unknown command '%s'", argv[0])
	}
	if !cmd.arityOK(len(argv)) {
		return errorf("ERR wrong number of arguments for '%s' command", name)
	}
	if !replaying && cmd.flags&flagDenyOOM != 0 && s.overLimit() {
		return ErrorReply("OOM command not allowed when the key limit is reached")
	}

	frame := &execFrame{replaying: replaying}
	c := s.newCallCtx(nil, frame, sess.db, argv)
	c.cmd = cmd
	r, prop := s.run(c, cmd, argv)
	sess.db = c.db
	s.releaseCtx(c)

	if prop != nil {
		// write commands propagate verbatim unless something was replicated explicitly
		if len(frame.ops) == 0 {
			frame.add(c.startDB, prop, "")
		}
	}
	s.propagate(frame)
	return r
}

// run executes cmd inside c. It returns the reply and, for successful write commands, the
// command line to propagate when nothing was replicated explicitly.
func (s *Server) run(c *callCtx, cmd *command, argv CmdLine) (Reply, CmdLine) {
	start := time.Now()
	var r Reply
	var prop CmdLine
	if cmd.native != nil {
		r = cmd.native(s, c, argv)
	} else {
		r = s.runModule(c, cmd, argv)
	}
	if cmd.flags&flagWrite != 0 && !r.IsError() {
		prop = argv
		if c.rewritten != nil {
			prop = c.rewritten
		}
	}
	s.metrics.observe(cmd.name, start, r.IsError())
	return r, prop
}

// runModule invokes a module command with host strings for argv.
func (s *Server) runModule(c *callCtx, cmd *command, argv CmdLine) Reply {
	ptrs := make([]raw.StringPtr, len(argv))
	for i, a := range argv {
		ptrs[i] = s.newString(c, a)
	}

	st := s.invokeModule(c, cmd, ptrs)
	r, ok := c.replies.result()
	if st != raw.StatusOK && !ok {
		return errorf("ERR module command '%s' failed", cmd.name)
	}
	if !ok {
		log.Warningf("command %s returned without reply", cmd.name)
	}
	return r
}

func (s *Server) invokeModule(c *callCtx, cmd *command, ptrs []raw.StringPtr) (st raw.Status) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("module command %s panicked: %v", cmd.name, rec)
			st = raw.StatusErr
		}
	}()
	return cmd.module(c.id, ptrs)
}

// overLimit reports whether the key limit for deny-oom commands is reached.
func (s *Server) overLimit() bool {
	if s.config.MaxKeys <= 0 {
		return false
	}
	return s.keyCount() >= s.config.MaxKeys
}

func (s *Server) keyCount() int {
	n := 0
	for _, ks := range s.dbs {
		n += ks.Len()
	}
	return n
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

// Save writes a snapshot of every database to w.
func (s *Server) Save(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return db.Save(w, s.dbs)
}

// Load replaces every database with the snapshot read from r.
func (s *Server) Load(r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := db.Load(r, s.dbs); err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	return nil
}

// KeyCount returns the number of keys over all databases, including expired keys that
// were not collected yet.
func (s *Server) KeyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyCount()
}
