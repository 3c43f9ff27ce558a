package db

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum        = "DKVMOD\x00\x00" // File format identifier
	snapshotVersion = 1                // Snapshot format version
	maxBlobLen      = 512 << 20        // Upper bound for a single string in a snapshot
)

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes all keyspaces to w. Expired keys are skipped.
//
// Layout (little endian): magic, version (u8), keyspace count (u32), then per keyspace the
// key count (u64) followed by the keys. Each key is its name, type (u8), deadline (i64)
// and the typed payload. Strings are written as u32 length plus bytes.
//
// Thread-safety: the caller must hold the server loop lock.
func Save(w io.Writer, spaces []*Keyspace) error {
	// Use a buffered writer for better performance
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(snapshotVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(spaces))); err != nil {
		return err
	}

	for _, ks := range spaces {
		keys := ks.Keys()
		if err := binary.Write(bw, binary.LittleEndian, uint64(len(keys))); err != nil {
			return err
		}
		for _, key := range keys {
			if err := writeEntry(bw, key, ks.data[key]); err != nil {
				return err
			}
		}
	}

	// Flush buffer to ensure all data is written
	return bw.Flush()
}

// Load replaces the content of spaces with the snapshot read from r. The snapshot must not
// hold more keyspaces than given. Keys already expired are dropped on the next access.
//
// Thread-safety: the caller must hold the server loop lock.
func Load(r io.Reader, spaces []*Keyspace) error {
	// Use a buffered reader for better performance
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if version != snapshotVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, snapshotVersion)
	}

	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}
	if int(count) > len(spaces) {
		return fmt.Errorf("snapshot holds %d databases, only %d configured", count, len(spaces))
	}

	for _, ks := range spaces {
		ks.Flush()
	}

	for i := 0; i < int(count); i++ {
		var keyCount uint64
		if err := binary.Read(br, binary.LittleEndian, &keyCount); err != nil {
			return err
		}
		for k := uint64(0); k < keyCount; k++ {
			key, e, expireAt, err := readEntry(br)
			if err != nil {
				return fmt.Errorf("database %d: %w", i, err)
			}
			spaces[i].restore(key, e, expireAt)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Entry encoding
// --------------------------------------------------------------------------

func writeEntry(w *bufio.Writer, key string, e *Entry) error {
	if err := writeBlob(w, []byte(key)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(e.Type)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, e.expireAt); err != nil {
		return err
	}

	switch e.Type {
	case TypeString:
		return writeBlob(w, e.Str)

	case TypeList:
		if err := binary.Write(w, binary.LittleEndian, uint32(len(e.List))); err != nil {
			return err
		}
		for _, v := range e.List {
			if err := writeBlob(w, v); err != nil {
				return err
			}
		}

	case TypeHash:
		fields := make([]string, 0, len(e.Hash))
		for f := range e.Hash {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		if err := binary.Write(w, binary.LittleEndian, uint32(len(fields))); err != nil {
			return err
		}
		for _, f := range fields {
			if err := writeBlob(w, []byte(f)); err != nil {
				return err
			}
			if err := writeBlob(w, e.Hash[f]); err != nil {
				return err
			}
		}

	case TypeSet:
		members := make([]string, 0, len(e.Set))
		for m := range e.Set {
			members = append(members, m)
		}
		sort.Strings(members)
		if err := binary.Write(w, binary.LittleEndian, uint32(len(members))); err != nil {
			return err
		}
		for _, m := range members {
			if err := writeBlob(w, []byte(m)); err != nil {
				return err
			}
		}

	case TypeZSet:
		items := e.ZSet.Items()
		if err := binary.Write(w, binary.LittleEndian, uint32(len(items))); err != nil {
			return err
		}
		for _, it := range items {
			if err := writeBlob(w, []byte(it.Member)); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, math.Float64bits(it.Score)); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("key %q: cannot encode type %s", key, e.Type)
	}
	return nil
}

func readEntry(r *bufio.Reader) (string, *Entry, int64, error) {
	keyBytes, err := readBlob(r)
	if err != nil {
		return "", nil, 0, err
	}
	key := string(keyBytes)

	var typ uint8
	if err := binary.Read(r, binary.LittleEndian, &typ); err != nil {
		return "", nil, 0, err
	}
	var expireAt int64
	if err := binary.Read(r, binary.LittleEndian, &expireAt); err != nil {
		return "", nil, 0, err
	}

	e := NewEntry(Type(typ))
	switch e.Type {
	case TypeString:
		if e.Str, err = readBlob(r); err != nil {
			return "", nil, 0, err
		}

	case TypeList:
		n, err := readCount(r)
		if err != nil {
			return "", nil, 0, err
		}
		for i := uint32(0); i < n; i++ {
			v, err := readBlob(r)
			if err != nil {
				return "", nil, 0, err
			}
			e.List = append(e.List, v)
		}

	case TypeHash:
		n, err := readCount(r)
		if err != nil {
			return "", nil, 0, err
		}
		for i := uint32(0); i < n; i++ {
			f, err := readBlob(r)
			if err != nil {
				return "", nil, 0, err
			}
			v, err := readBlob(r)
			if err != nil {
				return "", nil, 0, err
			}
			e.Hash[string(f)] = v
		}

	case TypeSet:
		n, err := readCount(r)
		if err != nil {
			return "", nil, 0, err
		}
		for i := uint32(0); i < n; i++ {
			m, err := readBlob(r)
			if err != nil {
				return "", nil, 0, err
			}
			e.Set[string(m)] = struct{}{}
		}

	case TypeZSet:
		n, err := readCount(r)
		if err != nil {
			return "", nil, 0, err
		}
		for i := uint32(0); i < n; i++ {
			m, err := readBlob(r)
			if err != nil {
				return "", nil, 0, err
			}
			var bits uint64
			if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
				return "", nil, 0, err
			}
			e.ZSet.Add(string(m), math.Float64frombits(bits))
		}

	default:
		return "", nil, 0, fmt.Errorf("key %q: unknown type %d", key, typ)
	}
	return key, e, expireAt, nil
}

func writeBlob(w *bufio.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBlob(r *bufio.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n > maxBlobLen {
		return nil, fmt.Errorf("string length %d exceeds limit", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readCount(r *bufio.Reader) (uint32, error) {
	var n uint32
	err := binary.Read(r, binary.LittleEndian, &n)
	return n, err
}
