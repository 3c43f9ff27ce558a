package server

import (
	"bufio"
	"errors"
	"github.com/ValentinKolb/dkvmod/lib/host"
	"github.com/ValentinKolb/dkvmod/rpc/client"
	"github.com/ValentinKolb/dkvmod/rpc/common"
	"io"
	"net"
	"testing"
	"time"
)

func startServer(t *testing.T) (*Server, chan error) {
	t.Helper()
	h := host.New(host.Config{ExpireInterval: -1})
	t.Cleanup(func() { _ = h.Close() })

	s := NewRESPServer(h, common.ServerConfig{Endpoint: "127.0.0.1:0", TimeoutSecond: 5})
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Serve() }()
	t.Cleanup(func() { _ = s.Close() })
	return s, done
}

func newClient(t *testing.T, s *Server) *client.Client {
	t.Helper()
	c, err := client.NewClient(common.ClientConfig{Endpoint: s.Addr().String(), TimeoutSecond: 5})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func do(t *testing.T, c *client.Client, args ...string) string {
	t.Helper()
	r, err := c.Do(args...)
	if err != nil {
		t.Fatalf("Do(%v) error = %v", args, err)
	}
	return r.String()
}

func TestCommands(t *testing.T) {
	s, _ := startServer(t)
	c := newClient(t, s)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"PING"}, "PONG"},
		{[]string{"SET", "k", "v"}, "OK"},
		{[]string{"GET", "k"}, `"v"`},
		{[]string{"RPUSH", "l", "a", "b"}, "(integer) 2"},
		{[]string{"LRANGE", "l", "0", "-1"}, "1) \"a\"\n2) \"b\""},
		{[]string{"GET", "missing"}, "(nil)"},
		{[]string{"NOSUCH"}, "(error) ERR unknown command 'NOSUCH'"},
	}
	for _, tt := range tests {
		if got := do(t, c, tt.args...); got != tt.want {
			t.Errorf("%v = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	s, _ := startServer(t)
	c1 := newClient(t, s)
	c2 := newClient(t, s)

	do(t, c1, "SELECT", "1")
	do(t, c1, "SET", "k", "one")
	if got := do(t, c2, "GET", "k"); got != "(nil)" {
		t.Errorf("Second connection sees db 1: %s", got)
	}
	do(t, c2, "SELECT", "1")
	if got := do(t, c2, "GET", "k"); got != `"one"` {
		t.Errorf("GET k in db 1 = %s", got)
	}
}

func TestPipeline(t *testing.T) {
	s, _ := startServer(t)
	c := newClient(t, s)

	var cmds []host.CmdLine
	for i := 0; i < 100; i++ {
		cmds = append(cmds, host.CmdLine{[]byte("INCR"), []byte("n")})
	}
	replies, err := c.Pipeline(cmds)
	if err != nil {
		t.Fatalf("Pipeline() error = %v", err)
	}
	if len(replies) != 100 || replies[99].Int != 100 {
		t.Errorf("Unexpected pipeline replies: %d, last %v", len(replies), replies[len(replies)-1])
	}
}

func TestRawProtocol(t *testing.T) {
	s, _ := startServer(t)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"inline", "PING\r\n", "+PONG\r\n"},
		{"inline quoted", "ECHO \"a b\"\r\n", "$3\r\na b\r\n"},
		{"protocol error", "*1\r\n$x\r\n", "-ERR Protocol error"},
		{"quit", "QUIT\r\n", "+OK\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := net.Dial("tcp", s.Addr().String())
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

			if _, err := conn.Write([]byte(tt.input)); err != nil {
				t.Fatal(err)
			}
			r := bufio.NewReader(conn)
			buf := make([]byte, len(tt.want))
			if _, err := io.ReadFull(r, buf); err != nil {
				t.Fatalf("Read error = %v", err)
			}
			if string(buf) != tt.want {
				t.Errorf("Got %q, want %q", buf, tt.want)
			}
			if tt.name == "quit" || tt.name == "protocol error" {
				// the server closes the connection after the reply
				if _, err := io.ReadAll(r); err != nil {
					t.Errorf("Expected connection to be closed, got %v", err)
				}
			}
		})
	}
}

func TestClose(t *testing.T) {
	s, done := startServer(t)
	c := newClient(t, s)
	do(t, c, "PING")

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrServerClosed) {
			t.Errorf("Serve() = %v, want ErrServerClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	if _, err := c.Do("PING"); err == nil {
		t.Error("Expected command on closed server to fail")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Client Close() error = %v", err)
	}
	if _, err := c.Do("PING"); !errors.Is(err, client.ErrClientClosed) {
		t.Errorf("Expected closed client, got %v", err)
	}
}
