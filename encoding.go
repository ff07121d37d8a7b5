package rdfgraph

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

// Key encoding helpers for bbolt.
// All integer keys use big-endian encoding for proper byte-ordering in B+tree.

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func encodeID(id ID) []byte {
	return encodeUint64(uint64(id))
}

func decodeID(b []byte) ID {
	return ID(decodeUint64(b))
}

// tripleKeyLen is the size of an index key: three 8-byte IDs.
const tripleKeyLen = 24

// encodeTripleKey builds an index key a(8) + b(8) + c(8). The spo, pos and
// osp buckets store the same triple with its positions rotated so every
// bound prefix is a range scan.
func encodeTripleKey(a, b, c ID) []byte {
	buf := make([]byte, tripleKeyLen)
	binary.BigEndian.PutUint64(buf[0:8], uint64(a))
	binary.BigEndian.PutUint64(buf[8:16], uint64(b))
	binary.BigEndian.PutUint64(buf[16:24], uint64(c))
	return buf
}

// indexMark is the value stored under every index key. bbolt's Get cannot
// tell an empty value from a missing key, so presence is tested with
// hasKey and values are never empty.
var indexMark = []byte{1}

// hasKey reports whether k is present in b, whatever its value.
func hasKey(b *bolt.Bucket, k []byte) bool {
	got, _ := b.Cursor().Seek(k)
	return got != nil && bytes.Equal(got, k)
}

func decodeTripleKey(k []byte) (a, b, c ID) {
	return ID(binary.BigEndian.Uint64(k[0:8])),
		ID(binary.BigEndian.Uint64(k[8:16])),
		ID(binary.BigEndian.Uint64(k[16:24]))
}

// encodeKeyPrefix encodes the leading bound IDs of an index key.
func encodeKeyPrefix(ids ...ID) []byte {
	buf := make([]byte, 8*len(ids))
	for i, id := range ids {
		binary.BigEndian.PutUint64(buf[8*i:], uint64(id))
	}
	return buf
}

// ---------------------------------------------------------------------------
// Term records
// ---------------------------------------------------------------------------

// termKind classifies stored terms.
type termKind uint8

const (
	termIRI termKind = iota + 1
	termBlank
	termLiteral
)

// termRecord is the value stored under a term ID.
type termRecord struct {
	Term string   `msgpack:"t"`
	Kind termKind `msgpack:"k"`
}

// termMagicCRC marks a MessagePack term record followed by a CRC32.
const termMagicCRC byte = 0x02

// ErrTermChecksum is returned when a stored term record is corrupted.
var ErrTermChecksum = errors.New("rdfgraph: term record checksum mismatch")

// crc32Table is the precomputed Castagnoli CRC32 table.
var crc32Table = crc32.MakeTable(crc32.Castagnoli)

// encodeTermRecord serializes a term record.
// Format: magic(1) + msgpack_data + crc32(4)
func encodeTermRecord(rec termRecord) ([]byte, error) {
	raw, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 1+len(raw)+4)
	buf[0] = termMagicCRC
	copy(buf[1:], raw)
	checksum := crc32.Checksum(buf[:1+len(raw)], crc32Table)
	binary.BigEndian.PutUint32(buf[1+len(raw):], checksum)
	return buf, nil
}

// decodeTermRecord verifies and deserializes a term record.
func decodeTermRecord(data []byte) (termRecord, error) {
	var rec termRecord
	if len(data) < 5 || data[0] != termMagicCRC {
		return rec, fmt.Errorf("rdfgraph: malformed term record (%d bytes)", len(data))
	}
	payload := data[:len(data)-4]
	stored := binary.BigEndian.Uint32(data[len(data)-4:])
	if actual := crc32.Checksum(payload, crc32Table); stored != actual {
		return rec, fmt.Errorf("%w (stored=%08x actual=%08x)", ErrTermChecksum, stored, actual)
	}
	if err := msgpack.Unmarshal(payload[1:], &rec); err != nil {
		return rec, err
	}
	return rec, nil
}
