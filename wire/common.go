package wire

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
)

// maxVarBytesLength is the maximum length allowed for a variable length byte
// slice read from the wire. It is a sanity bound, not a consensus rule.
const maxVarBytesLength = 1 << 23 // 8MB

var byteOrder = binary.LittleEndian

func writeUint8(w io.Writer, val uint8) error {
	_, err := w.Write([]byte{val})
	return errors.WithStack(err)
}

func writeUint16(w io.Writer, val uint16) error {
	var buf [2]byte
	byteOrder.PutUint16(buf[:], val)
	_, err := w.Write(buf[:])
	return errors.WithStack(err)
}

func writeUint32(w io.Writer, val uint32) error {
	var buf [4]byte
	byteOrder.PutUint32(buf[:], val)
	_, err := w.Write(buf[:])
	return errors.WithStack(err)
}

func writeUint64(w io.Writer, val uint64) error {
	var buf [8]byte
	byteOrder.PutUint64(buf[:], val)
	_, err := w.Write(buf[:])
	return errors.WithStack(err)
}

func writeInt64(w io.Writer, val int64) error {
	return writeUint64(w, uint64(val))
}

// writeTimestamp writes a second-granularity timestamp.
func writeTimestamp(w io.Writer, t time.Time) error {
	return writeUint32(w, uint32(t.Unix()))
}

func writeVarBytes(w io.Writer, b []byte) error {
	err := writeUint64(w, uint64(len(b)))
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return errors.WithStack(err)
}

func writeVarString(w io.Writer, s string) error {
	return writeVarBytes(w, []byte(s))
}

func readUint8(r io.Reader) (uint8, error) {
	var buf [1]byte
	_, err := io.ReadFull(r, buf[:])
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return buf[0], nil
}

func readUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	_, err := io.ReadFull(r, buf[:])
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return byteOrder.Uint16(buf[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	_, err := io.ReadFull(r, buf[:])
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return byteOrder.Uint32(buf[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	_, err := io.ReadFull(r, buf[:])
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return byteOrder.Uint64(buf[:]), nil
}

func readInt64(r io.Reader) (int64, error) {
	val, err := readUint64(r)
	return int64(val), err
}

func readTimestamp(r io.Reader) (time.Time, error) {
	secs, err := readUint32(r)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(secs), 0), nil
}

func readVarBytes(r io.Reader) ([]byte, error) {
	length, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	if length > maxVarBytesLength {
		return nil, errors.Errorf("variable length byte slice is too long "+
			"[length %d, max %d]", length, maxVarBytesLength)
	}
	b := make([]byte, length)
	_, err = io.ReadFull(r, b)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return b, nil
}

func readVarString(r io.Reader) (string, error) {
	b, err := readVarBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// countingWriter counts the bytes written into it so that serialized sizes
// can be computed without allocating a buffer.
type countingWriter struct {
	n int
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	cw.n += len(p)
	return len(p), nil
}
