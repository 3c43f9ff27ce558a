package resp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/host"
	"io"
	"strconv"
)

const (
	MaxBulkLen    = 512 * 1024 * 1024 // largest accepted bulk string
	MaxArrayLen   = 1024 * 1024       // largest accepted command or reply array
	MaxInlineLen  = 64 * 1024         // longest accepted inline command line
	maxReplyDepth = 64
)

// ErrProtocol is wrapped by every error caused by malformed input.
var ErrProtocol = errors.New("protocol error")

func protocolErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

// Reader decodes RESP2 commands and replies from a byte stream.
type Reader struct {
	rd *bufio.Reader
}

// NewReader creates a reader with a buffer of the given size (0 = 64 KiB).
func NewReader(r io.Reader, size int) *Reader {
	if size <= 0 {
		size = 64 * 1024
	}
	return &Reader{rd: bufio.NewReaderSize(r, size)}
}

// readLine reads one CRLF terminated line without the terminator.
func (r *Reader) readLine() ([]byte, error) {
	line, err := r.rd.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return nil, protocolErr("line too long")
	}
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, protocolErr("line not terminated by CRLF")
	}
	return line[:len(line)-2], nil
}

func parseLen(b []byte, max int) (int, error) {
	n, err := strconv.Atoi(string(b))
	if err != nil || n < -1 {
		return 0, protocolErr("invalid length %q", b)
	}
	if n > max {
		return 0, protocolErr("length %d exceeds limit %d", n, max)
	}
	return n, nil
}

// readBulk reads the payload of a bulk string of length n and its CRLF.
func (r *Reader) readBulk(n int) ([]byte, error) {
	buf := make([]byte, n+2)
	if _, err := io.ReadFull(r.rd, buf); err != nil {
		return nil, err
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return nil, protocolErr("bulk string not terminated by CRLF")
	}
	return buf[:n], nil
}

// ReadCommand reads the next client command. Both the multibulk form
// (*<n> followed by n bulk strings) and inline commands are accepted. Empty inline lines
// are skipped.
func (r *Reader) ReadCommand() (host.CmdLine, error) {
	for {
		prefix, err := r.rd.Peek(1)
		if err != nil {
			return nil, err
		}
		if prefix[0] != '*' {
			argv, err := r.readInline()
			if err != nil {
				return nil, err
			}
			if len(argv) == 0 {
				continue
			}
			return argv, nil
		}

		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		n, err := parseLen(line[1:], MaxArrayLen)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			continue
		}
		argv := make(host.CmdLine, n)
		for i := range argv {
			line, err := r.readLine()
			if err != nil {
				return nil, err
			}
			if len(line) == 0 || line[0] != '$' {
				return nil, protocolErr("expected '$', got %q", line)
			}
			size, err := parseLen(line[1:], MaxBulkLen)
			if err != nil {
				return nil, err
			}
			if size < 0 {
				return nil, protocolErr("null bulk string in command")
			}
			if argv[i], err = r.readBulk(size); err != nil {
				return nil, err
			}
		}
		return argv, nil
	}
}

// readInline reads a space separated command line. Double quotes group words.
func (r *Reader) readInline() (host.CmdLine, error) {
	line, err := r.rd.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) || len(line) > MaxInlineLen {
		return nil, protocolErr("inline command too long")
	}
	if err != nil {
		return nil, err
	}
	return SplitArgs(string(bytes.TrimRight(line, "\r\n")))
}

// Buffered returns the number of bytes that can be read without blocking. A server
// flushes its replies once no pipelined command is buffered.
func (r *Reader) Buffered() int {
	return r.rd.Buffered()
}

// ReadReply reads the next reply.
func (r *Reader) ReadReply() (host.Reply, error) {
	return r.readReply(0)
}

func (r *Reader) readReply(depth int) (host.Reply, error) {
	if depth > maxReplyDepth {
		return host.Reply{}, protocolErr("reply nested too deep")
	}
	line, err := r.readLine()
	if err != nil {
		return host.Reply{}, err
	}
	if len(line) == 0 {
		return host.Reply{}, protocolErr("empty reply line")
	}
	body := line[1:]
	switch line[0] {
	case '+':
		return host.StatusReply(string(body)), nil
	case '-':
		return host.ErrorReply(string(body)), nil
	case ':':
		v, err := strconv.ParseInt(string(body), 10, 64)
		if err != nil {
			return host.Reply{}, protocolErr("invalid integer %q", body)
		}
		return host.IntReply(v), nil
	case '$':
		n, err := parseLen(body, MaxBulkLen)
		if err != nil {
			return host.Reply{}, err
		}
		if n < 0 {
			return host.NullReply(), nil
		}
		b, err := r.readBulk(n)
		if err != nil {
			return host.Reply{}, err
		}
		return host.Reply{Kind: host.KindBulk, Str: b}, nil
	case '*':
		n, err := parseLen(body, MaxArrayLen)
		if err != nil {
			return host.Reply{}, err
		}
		if n < 0 {
			return host.NullReply(), nil
		}
		elems := make([]host.Reply, n)
		for i := range elems {
			if elems[i], err = r.readReply(depth + 1); err != nil {
				return host.Reply{}, err
			}
		}
		return host.Reply{Kind: host.KindArray, Elems: elems}, nil
	default:
		return host.Reply{}, protocolErr("unknown reply type %q", line[0])
	}
}

// --------------------------------------------------------------------------
// Argument splitting
// --------------------------------------------------------------------------

// SplitArgs splits an inline command line into arguments. Words are separated by blanks;
// double quoted words may contain blanks and the escapes \n \r \t \" \\ and \xHH, single
// quoted words are taken literally.
func SplitArgs(line string) (host.CmdLine, error) {
	var argv host.CmdLine
	i := 0
	for {
		for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
			i++
		}
		if i >= len(line) {
			return argv, nil
		}

		var word []byte
		switch line[i] {
		case '"':
			i++
			for {
				if i >= len(line) {
					return nil, protocolErr("unbalanced quotes")
				}
				c := line[i]
				if c == '"' {
					i++
					break
				}
				if c == '\\' && i+1 < len(line) {
					i++
					switch e := line[i]; e {
					case 'n':
						word = append(word, '\n')
					case 'r':
						word = append(word, '\r')
					case 't':
						word = append(word, '\t')
					case 'x':
						if i+2 < len(line) {
							if v, err := strconv.ParseUint(line[i+1:i+3], 16, 8); err == nil {
								word = append(word, byte(v))
								i += 2
								break
							}
						}
						word = append(word, 'x')
					default:
						word = append(word, e)
					}
					i++
					continue
				}
				word = append(word, c)
				i++
			}
		case '\'':
			end := bytes.IndexByte([]byte(line[i+1:]), '\'')
			if end < 0 {
				return nil, protocolErr("unbalanced quotes")
			}
			word = []byte(line[i+1 : i+1+end])
			i += end + 2
		default:
			start := i
			for i < len(line) && line[i] != ' ' && line[i] != '\t' {
				i++
			}
			word = []byte(line[start:i])
		}
		if i < len(line) && line[i] != ' ' && line[i] != '\t' {
			return nil, protocolErr("closing quote must be followed by a space")
		}
		if word == nil {
			word = []byte{}
		}
		argv = append(argv, word)
	}
}
