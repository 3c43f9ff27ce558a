package replication

import (
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/host"
)

// --------------------------------------------------------------------------
// Batch
// --------------------------------------------------------------------------

// Batch is the propagation of one invocation, tagged with the node that executed it.
type Batch struct {
	Origin string
	Ops    []host.Propagated
}

const (
	opFlagNoAOF      = 1 << 0
	opFlagNoReplicas = 1 << 1
)

var ErrCorruptBatch = errors.New("corrupt replication batch")

// Encode serializes the batch. Layout (all integers uvarint):
//
//	origin length, origin, op count,
//	per op: db, flags byte, argc, per argument: length, bytes
func (b Batch) Encode() []byte {
	size := binary.MaxVarintLen64*2 + len(b.Origin)
	for _, op := range b.Ops {
		size += binary.MaxVarintLen64*2 + 1
		for _, a := range op.Argv {
			size += binary.MaxVarintLen64 + len(a)
		}
	}

	buf := make([]byte, 0, size)
	buf = binary.AppendUvarint(buf, uint64(len(b.Origin)))
	buf = append(buf, b.Origin...)
	buf = binary.AppendUvarint(buf, uint64(len(b.Ops)))
	for _, op := range b.Ops {
		buf = binary.AppendUvarint(buf, uint64(op.DB))
		var flags byte
		if op.NoAOF {
			flags |= opFlagNoAOF
		}
		if op.NoReplicas {
			flags |= opFlagNoReplicas
		}
		buf = append(buf, flags)
		buf = binary.AppendUvarint(buf, uint64(len(op.Argv)))
		for _, a := range op.Argv {
			buf = binary.AppendUvarint(buf, uint64(len(a)))
			buf = append(buf, a...)
		}
	}
	return buf
}

// batchDecoder reads the fields of an encoded batch.
type batchDecoder struct {
	data []byte
	pos  int
}

func (d *batchDecoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.data[d.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: bad varint at %d", ErrCorruptBatch, d.pos)
	}
	d.pos += n
	return v, nil
}

func (d *batchDecoder) bytes() ([]byte, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(d.data)-d.pos) {
		return nil, fmt.Errorf("%w: length %d exceeds input", ErrCorruptBatch, n)
	}
	b := make([]byte, n)
	copy(b, d.data[d.pos:])
	d.pos += int(n)
	return b, nil
}

// count reads an element count. Every element takes at least one byte, larger counts
// cannot be valid.
func (d *batchDecoder) count() (int, error) {
	n, err := d.uvarint()
	if err != nil {
		return 0, err
	}
	if n > uint64(len(d.data)-d.pos) {
		return 0, fmt.Errorf("%w: count %d exceeds input", ErrCorruptBatch, n)
	}
	return int(n), nil
}

// DecodeBatch parses the output of Batch.Encode.
func DecodeBatch(data []byte) (Batch, error) {
	d := &batchDecoder{data: data}
	origin, err := d.bytes()
	if err != nil {
		return Batch{}, err
	}
	nops, err := d.count()
	if err != nil {
		return Batch{}, err
	}

	b := Batch{Origin: string(origin), Ops: make([]host.Propagated, nops)}
	for i := range b.Ops {
		db, err := d.uvarint()
		if err != nil {
			return Batch{}, err
		}
		if d.pos >= len(d.data) {
			return Batch{}, fmt.Errorf("%w: missing flags", ErrCorruptBatch)
		}
		flags := d.data[d.pos]
		d.pos++
		argc, err := d.count()
		if err != nil {
			return Batch{}, err
		}
		argv := make(host.CmdLine, argc)
		for j := range argv {
			if argv[j], err = d.bytes(); err != nil {
				return Batch{}, err
			}
		}
		b.Ops[i] = host.Propagated{
			DB:         int(db),
			Argv:       argv,
			NoAOF:      flags&opFlagNoAOF != 0,
			NoReplicas: flags&opFlagNoReplicas != 0,
		}
	}
	if d.pos != len(d.data) {
		return Batch{}, fmt.Errorf("%w: %d trailing bytes", ErrCorruptBatch, len(d.data)-d.pos)
	}
	return b, nil
}

// copyBatch deep copies ops, sinks must not keep references into the server.
func copyBatch(ops []host.Propagated) []host.Propagated {
	out := make([]host.Propagated, len(ops))
	for i, op := range ops {
		argv := make(host.CmdLine, len(op.Argv))
		for j, a := range op.Argv {
			argv[j] = append([]byte{}, a...)
		}
		out[i] = op
		out[i].Argv = argv
	}
	return out
}
