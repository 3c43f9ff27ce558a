package resp

import (
	"bufio"
	"github.com/ValentinKolb/dkvmod/lib/host"
	"io"
	"strconv"
)

// Writer encodes RESP2 commands and replies. Output is buffered until Flush.
type Writer struct {
	wr  *bufio.Writer
	num []byte
}

// NewWriter creates a writer with a buffer of the given size (0 = 64 KiB).
func NewWriter(w io.Writer, size int) *Writer {
	if size <= 0 {
		size = 64 * 1024
	}
	return &Writer{wr: bufio.NewWriterSize(w, size), num: make([]byte, 0, 24)}
}

func (w *Writer) writeHeader(prefix byte, n int64) error {
	w.num = strconv.AppendInt(w.num[:0], n, 10)
	if err := w.wr.WriteByte(prefix); err != nil {
		return err
	}
	if _, err := w.wr.Write(w.num); err != nil {
		return err
	}
	_, err := w.wr.WriteString("\r\n")
	return err
}

func (w *Writer) writeBulk(b []byte) error {
	if err := w.writeHeader('$', int64(len(b))); err != nil {
		return err
	}
	if _, err := w.wr.Write(b); err != nil {
		return err
	}
	_, err := w.wr.WriteString("\r\n")
	return err
}

// writeLine writes a simple string or error. CR and LF are replaced by blanks, they
// would end the line early.
func (w *Writer) writeLine(prefix byte, s []byte) error {
	if err := w.wr.WriteByte(prefix); err != nil {
		return err
	}
	for _, c := range s {
		if c == '\r' || c == '\n' {
			c = ' '
		}
		if err := w.wr.WriteByte(c); err != nil {
			return err
		}
	}
	_, err := w.wr.WriteString("\r\n")
	return err
}

// WriteCommand encodes argv as a multibulk command.
func (w *Writer) WriteCommand(argv host.CmdLine) error {
	if err := w.writeHeader('*', int64(len(argv))); err != nil {
		return err
	}
	for _, a := range argv {
		if err := w.writeBulk(a); err != nil {
			return err
		}
	}
	return nil
}

// WriteStrings is WriteCommand with string arguments.
func (w *Writer) WriteStrings(args ...string) error {
	argv := make(host.CmdLine, len(args))
	for i, a := range args {
		argv[i] = []byte(a)
	}
	return w.WriteCommand(argv)
}

// WriteReply encodes r, recursively for arrays.
func (w *Writer) WriteReply(r host.Reply) error {
	switch r.Kind {
	case host.KindNull:
		_, err := w.wr.WriteString("$-1\r\n")
		return err
	case host.KindStatus:
		return w.writeLine('+', r.Str)
	case host.KindError:
		return w.writeLine('-', r.Str)
	case host.KindInteger:
		return w.writeHeader(':', r.Int)
	case host.KindBulk:
		return w.writeBulk(r.Str)
	case host.KindArray:
		if err := w.writeHeader('*', int64(len(r.Elems))); err != nil {
			return err
		}
		for _, e := range r.Elems {
			if err := w.WriteReply(e); err != nil {
				return err
			}
		}
		return nil
	default:
		return w.writeLine('-', []byte("ERR unknown reply kind "+strconv.Itoa(int(r.Kind))))
	}
}

// Buffered returns the number of bytes not flushed yet.
func (w *Writer) Buffered() int {
	return w.wr.Buffered()
}

// Flush writes the buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.wr.Flush()
}
