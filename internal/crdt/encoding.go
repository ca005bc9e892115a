package crdt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"
)

var (
	// ErrMalformedUpdate is returned when an update blob does not decode.
	ErrMalformedUpdate = errors.New("crdt: malformed update")
	// ErrMalformedStateVector is returned when a state vector does not decode.
	ErrMalformedStateVector = errors.New("crdt: malformed state vector")
)

// EmptyStateVector is the encoding of a replica that has seen nothing.
var EmptyStateVector = []byte{0}

type decoder struct {
	buf []byte
	pos int
}

func (dec *decoder) uvarint() (uint64, bool) {
	v, n := binary.Uvarint(dec.buf[dec.pos:])
	if n <= 0 {
		return 0, false
	}
	dec.pos += n
	return v, true
}

func (dec *decoder) readByte() (byte, bool) {
	if dec.pos >= len(dec.buf) {
		return 0, false
	}
	b := dec.buf[dec.pos]
	dec.pos++
	return b, true
}

func (dec *decoder) remaining() int { return len(dec.buf) - dec.pos }

func (dec *decoder) id() (ID, bool) {
	client, ok := dec.uvarint()
	if !ok {
		return ID{}, false
	}
	seq, ok := dec.uvarint()
	return ID{Client: client, Seq: seq}, ok
}

func encodeStateVector(vector map[uint64]uint64) []byte {
	clients := make([]uint64, 0, len(vector))
	for client, seq := range vector {
		if seq > 0 {
			clients = append(clients, client)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })

	buf := binary.AppendUvarint(nil, uint64(len(clients)))
	for _, client := range clients {
		buf = binary.AppendUvarint(buf, client)
		buf = binary.AppendUvarint(buf, vector[client])
	}
	return buf
}

func decodeStateVector(buf []byte) (map[uint64]uint64, error) {
	dec := &decoder{buf: buf}
	n, ok := dec.uvarint()
	if !ok || n > uint64(dec.remaining()) {
		return nil, ErrMalformedStateVector
	}
	vector := make(map[uint64]uint64, n)
	for i := uint64(0); i < n; i++ {
		client, ok := dec.uvarint()
		if !ok {
			return nil, ErrMalformedStateVector
		}
		seq, ok := dec.uvarint()
		if !ok {
			return nil, ErrMalformedStateVector
		}
		vector[client] = seq
	}
	if dec.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedStateVector, dec.remaining())
	}
	return vector, nil
}

func encodeUpdate(ops []op) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(ops)))
	for _, o := range ops {
		buf = append(buf, byte(o.kind))
		buf = binary.AppendUvarint(buf, o.id.Client)
		buf = binary.AppendUvarint(buf, o.id.Seq)
		switch o.kind {
		case kindInsert:
			buf = binary.AppendUvarint(buf, o.stamp)
			buf = binary.AppendUvarint(buf, o.parent.Client)
			buf = binary.AppendUvarint(buf, o.parent.Seq)
			buf = binary.AppendUvarint(buf, uint64(o.value))
		case kindDelete:
			buf = binary.AppendUvarint(buf, o.target.Client)
			buf = binary.AppendUvarint(buf, o.target.Seq)
		}
	}
	return buf
}

func decodeUpdate(buf []byte) ([]op, error) {
	dec := &decoder{buf: buf}
	n, ok := dec.uvarint()
	if !ok || n > uint64(dec.remaining()) {
		return nil, ErrMalformedUpdate
	}
	ops := make([]op, 0, n)
	for i := uint64(0); i < n; i++ {
		o, err := decodeOp(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: op %d: %v", ErrMalformedUpdate, i, err)
		}
		ops = append(ops, o)
	}
	if dec.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedUpdate, dec.remaining())
	}
	return ops, nil
}

func decodeOp(dec *decoder) (op, error) {
	kind, ok := dec.readByte()
	if !ok {
		return op{}, errors.New("truncated")
	}
	id, ok := dec.id()
	if !ok {
		return op{}, errors.New("truncated id")
	}
	if id.Seq == 0 {
		return op{}, errors.New("zero sequence number")
	}
	o := op{kind: opKind(kind), id: id}
	switch o.kind {
	case kindInsert:
		if o.stamp, ok = dec.uvarint(); !ok {
			return op{}, errors.New("truncated stamp")
		}
		if o.parent, ok = dec.id(); !ok {
			return op{}, errors.New("truncated parent")
		}
		v, ok := dec.uvarint()
		if !ok || v > utf8.MaxRune || !utf8.ValidRune(rune(v)) {
			return op{}, errors.New("invalid rune")
		}
		o.value = rune(v)
	case kindDelete:
		if o.target, ok = dec.id(); !ok {
			return op{}, errors.New("truncated target")
		}
		if o.target.IsZero() {
			return op{}, errors.New("delete targets document head")
		}
	default:
		return op{}, fmt.Errorf("unknown op kind %d", kind)
	}
	return o, nil
}
