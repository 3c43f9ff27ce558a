package client

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/host"
	"github.com/ValentinKolb/dkvmod/rpc/common"
	"github.com/ValentinKolb/dkvmod/rpc/resp"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"strings"
	"sync"
	"time"
)

var (
	Logger = logger.GetLogger("rpc")

	ErrClientClosed = errors.New("client is closed")
)

const (
	defaultTimeout    = 5 * time.Second
	defaultBufferSize = 64 * 1024
)

// Client is a RESP client for one server endpoint. Commands are sent one at a time; a
// client can be shared between goroutines.
type Client struct {
	config common.ClientConfig
	mu     sync.Mutex
	conn   net.Conn
	r      *resp.Reader
	w      *resp.Writer
	closed bool
}

// NewClient connects to config.Endpoint. Endpoints of the form unix://path use a unix
// socket.
func NewClient(config common.ClientConfig) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("no endpoint provided")
	}
	c := &Client{config: config}
	if err := c.reconnect(); err != nil {
		return nil, err
	}
	Logger.Debugf("Connected to %s", config.Endpoint)
	return c, nil
}

// Do sends one command and returns the reply. Error replies of the server are replies,
// not errors; err is set for network and protocol failures only.
func (c *Client) Do(args ...string) (host.Reply, error) {
	argv := make(host.CmdLine, len(args))
	for i, a := range args {
		argv[i] = []byte(a)
	}
	return c.DoArgs(argv)
}

// DoArgs is Do with binary arguments.
func (c *Client) DoArgs(argv host.CmdLine) (host.Reply, error) {
	replies, err := c.Pipeline([]host.CmdLine{argv})
	if err != nil {
		return host.Reply{}, err
	}
	return replies[0], nil
}

// Pipeline sends all commands before reading the replies.
func (c *Client) Pipeline(cmds []host.CmdLine) ([]host.Reply, error) {
	if len(cmds) == 0 {
		return nil, nil
	}
	for _, argv := range cmds {
		if len(argv) == 0 {
			return nil, fmt.Errorf("empty command")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}

	// Commands are only retried while nothing was sent: a retried write could run twice.
	var err error
	for attempt := 0; attempt <= c.config.RetryCount; attempt++ {
		if c.conn == nil {
			if err = c.reconnect(); err != nil {
				Logger.Warningf("Failed to connect to %s (attempt %d/%d): %v", c.config.Endpoint, attempt+1, c.config.RetryCount+1, err)
				continue
			}
		}
		if err = c.send(cmds); err != nil {
			c.drop()
			continue
		}
		replies, err := c.receive(len(cmds))
		if err != nil {
			c.drop()
			return nil, err
		}
		return replies, nil
	}
	return nil, fmt.Errorf("failed to send to %s: %w", c.config.Endpoint, err)
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *Client) timeout() time.Duration {
	if c.config.TimeoutSecond <= 0 {
		return defaultTimeout
	}
	return c.config.Timeout()
}

func (c *Client) reconnect() error {
	network, address := "tcp", c.config.Endpoint
	if strings.HasPrefix(address, "unix://") {
		network, address = "unix", strings.TrimPrefix(address, "unix://")
	}
	conn, err := net.DialTimeout(network, address, c.timeout())
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.config.Endpoint, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	c.conn = conn
	c.r = resp.NewReader(conn, defaultBufferSize)
	c.w = resp.NewWriter(conn, defaultBufferSize)
	return nil
}

func (c *Client) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) send(cmds []host.CmdLine) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout())); err != nil {
		return err
	}
	for _, argv := range cmds {
		if err := c.w.WriteCommand(argv); err != nil {
			return err
		}
	}
	return c.w.Flush()
}

func (c *Client) receive(n int) ([]host.Reply, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout())); err != nil {
		return nil, err
	}
	replies := make([]host.Reply, n)
	for i := range replies {
		r, err := c.r.ReadReply()
		if err != nil {
			return nil, fmt.Errorf("failed to read reply: %w", err)
		}
		replies[i] = r
	}
	return replies, nil
}
