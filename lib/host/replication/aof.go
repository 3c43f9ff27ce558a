package replication

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/host"
	"github.com/ValentinKolb/dkvmod/rpc/resp"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FsyncPolicy controls when the append only file is synced to disk.
type FsyncPolicy string

const (
	FsyncAlways   FsyncPolicy = "always"   // after every batch
	FsyncEverySec FsyncPolicy = "everysec" // once per second in the background
	FsyncNo       FsyncPolicy = "no"       // left to the operating system
)

// ParseFsyncPolicy converts a configuration value.
func ParseFsyncPolicy(s string) (FsyncPolicy, error) {
	switch p := FsyncPolicy(strings.ToLower(s)); p {
	case FsyncAlways, FsyncEverySec, FsyncNo:
		return p, nil
	default:
		return "", fmt.Errorf("invalid fsync policy %q (expected always, everysec or no)", s)
	}
}

// --------------------------------------------------------------------------
// Append only file
// --------------------------------------------------------------------------

// AOF is a sink that appends the propagation stream to a file in RESP. Batches of more
// than one command are wrapped in MULTI/EXEC; SELECT is written when the database changes.
type AOF struct {
	mu     sync.Mutex
	f      *os.File
	w      *resp.Writer
	db     int
	policy FsyncPolicy
	dirty  bool
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// OpenAOF opens path for appending, creating it if needed.
func OpenAOF(path string, policy FsyncPolicy) (*AOF, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open append only file: %w", err)
	}
	a := &AOF{
		f:      f,
		w:      resp.NewWriter(f, 0),
		db:     -1,
		policy: policy,
		stop:   make(chan struct{}),
	}
	if policy == FsyncEverySec {
		a.wg.Add(1)
		go a.syncLoop()
	}
	log.Infof("appending to %s (fsync %s)", path, policy)
	return a, nil
}

func (a *AOF) Kind() host.SinkKind { return host.SinkAOF }

func (a *AOF) Propagate(batch []host.Propagated) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return os.ErrClosed
	}

	multi := len(batch) > 1
	if multi {
		if err := a.w.WriteStrings("MULTI"); err != nil {
			return err
		}
	}
	for _, op := range batch {
		if op.DB != a.db {
			if err := a.w.WriteStrings("SELECT", strconv.Itoa(op.DB)); err != nil {
				return err
			}
			a.db = op.DB
		}
		if err := a.w.WriteCommand(op.Argv); err != nil {
			return err
		}
	}
	if multi {
		if err := a.w.WriteStrings("EXEC"); err != nil {
			return err
		}
	}
	if err := a.w.Flush(); err != nil {
		return fmt.Errorf("failed to write append only file: %w", err)
	}

	if a.policy == FsyncAlways {
		return a.f.Sync()
	}
	a.dirty = true
	return nil
}

func (a *AOF) syncLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.mu.Lock()
			if a.f != nil && a.dirty {
				if err := a.f.Sync(); err != nil {
					log.Errorf("fsync of append only file failed: %v", err)
				}
				a.dirty = false
			}
			a.mu.Unlock()
		}
	}
}

// Close flushes, syncs and closes the file.
func (a *AOF) Close() error {
	a.once.Do(func() { close(a.stop) })
	a.wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return nil
	}
	err := errors.Join(a.w.Flush(), a.f.Sync(), a.f.Close())
	a.f = nil
	return err
}

// --------------------------------------------------------------------------
// Replay
// --------------------------------------------------------------------------

// ReplayAOF applies the commands of the append only file at path to s and returns the
// number of applied batches. A missing file is not an error. A truncated last command,
// as left behind by a crash, ends the replay without error.
func ReplayAOF(path string, s *host.Server) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open append only file: %w", err)
	}
	defer f.Close()

	r := resp.NewReader(f, 0)
	db := 0
	applied := 0
	var tx []host.Propagated
	inTx := false

	for n := 1; ; n++ {
		argv, err := r.ReadCommand()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			log.Warningf("append only file %s ends with a truncated command, ignoring it", path)
			break
		}
		if err != nil {
			return applied, fmt.Errorf("append only file %s, command %d: %w", path, n, err)
		}

		switch strings.ToUpper(string(argv[0])) {
		case "SELECT":
			if len(argv) != 2 {
				return applied, fmt.Errorf("append only file %s, command %d: bad SELECT", path, n)
			}
			if db, err = strconv.Atoi(string(argv[1])); err != nil {
				return applied, fmt.Errorf("append only file %s, command %d: bad SELECT: %w", path, n, err)
			}
			continue
		case "MULTI":
			inTx, tx = true, nil
			continue
		case "EXEC":
			if !inTx {
				return applied, fmt.Errorf("append only file %s, command %d: EXEC without MULTI", path, n)
			}
			inTx = false
			if err := s.ApplyReplicated(tx); err != nil {
				return applied, fmt.Errorf("append only file %s, command %d: %w", path, n, err)
			}
			applied++
			continue
		}

		op := host.Propagated{DB: db, Argv: argv}
		if inTx {
			tx = append(tx, op)
			continue
		}
		if err := s.ApplyReplicated([]host.Propagated{op}); err != nil {
			return applied, fmt.Errorf("append only file %s, command %d: %w", path, n, err)
		}
		applied++
	}
	if inTx {
		log.Warningf("append only file %s ends inside MULTI, dropping %d commands", path, len(tx))
	}
	return applied, nil
}
