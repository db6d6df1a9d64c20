package ncmdump

import "encoding/binary"

// cursor is a read position over an immutable container.
type cursor struct {
	data []byte
	off  int
}

func (c cursor) remaining() int {
	return len(c.data) - c.off
}

// take returns the next n bytes without copying and the advanced cursor.
func (c cursor) take(st state, n uint64) ([]byte, cursor, error) {
	if n > uint64(c.remaining()) {
		return nil, c, &TruncatedError{State: st.String(), Offset: c.off, Need: n, Have: c.remaining()}
	}

	end := c.off + int(n)
	field := c.data[c.off:end:end]

	return field, cursor{data: c.data, off: end}, nil
}

func (c cursor) skip(st state, n uint64) (cursor, error) {
	_, next, err := c.take(st, n)
	return next, err
}

func (c cursor) uint32(st state) (uint32, cursor, error) {
	b, next, err := c.take(st, 4)
	if err != nil {
		return 0, c, err
	}

	return binary.LittleEndian.Uint32(b), next, nil
}

// lengthPrefixed reads a little-endian u32 length followed by that many bytes.
func (c cursor) lengthPrefixed(st state) ([]byte, cursor, error) {
	n, next, err := c.uint32(st)
	if err != nil {
		return nil, c, err
	}

	return next.take(st, uint64(n))
}

func (c cursor) rest() []byte {
	return c.data[c.off:]
}
