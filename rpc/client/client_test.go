package client

import (
	"github.com/ValentinKolb/dkvmod/lib/host"
	"github.com/ValentinKolb/dkvmod/rpc/common"
	"github.com/ValentinKolb/dkvmod/rpc/resp"
	"net"
	"testing"
)

// fakeServer answers every command with its argument count.
func fakeServer(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				r := resp.NewReader(conn, 0)
				w := resp.NewWriter(conn, 0)
				for {
					argv, err := r.ReadCommand()
					if err != nil {
						return
					}
					_ = w.WriteReply(host.IntReply(int64(len(argv))))
					if r.Buffered() == 0 {
						_ = w.Flush()
					}
				}
			}()
		}
	}()
	return l
}

func TestNewClientErrors(t *testing.T) {
	if _, err := NewClient(common.ClientConfig{}); err == nil {
		t.Error("Expected missing endpoint to fail")
	}

	// a closed listener leaves a free port
	l, _ := net.Listen("tcp", "127.0.0.1:0")
	addr := l.Addr().String()
	_ = l.Close()
	if _, err := NewClient(common.ClientConfig{Endpoint: addr, TimeoutSecond: 1}); err == nil {
		t.Error("Expected connection to closed port to fail")
	}
}

func TestDo(t *testing.T) {
	l := fakeServer(t)
	c, err := NewClient(common.ClientConfig{Endpoint: l.Addr().String(), TimeoutSecond: 1})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer c.Close()

	r, err := c.Do("a", "b", "c")
	if err != nil || r.Kind != host.KindInteger || r.Int != 3 {
		t.Errorf("Do() = %v, %v", r, err)
	}
	if _, err := c.DoArgs(nil); err == nil {
		t.Error("Expected empty command to fail")
	}
	replies, err := c.Pipeline([]host.CmdLine{{[]byte("x")}, {[]byte("x"), []byte("y")}})
	if err != nil || len(replies) != 2 || replies[0].Int != 1 || replies[1].Int != 2 {
		t.Errorf("Pipeline() = %v, %v", replies, err)
	}
}
