// Package bio provides the variable-length integer framing used by the
// compressed ADΔER container.
package bio

import (
	"errors"
	"io"
)

// ErrOverflow is returned when a variable-length value does not fit in 32 bits.
var ErrOverflow = errors.New("bio: variable-length value overflows uint32")

// maxVarLen is the longest encoding of a uint32.
const maxVarLen = 5

// VariableLengthReader reads variable-length encoded values.
type VariableLengthReader struct {
	r io.Reader
}

// NewVariableLengthReader creates a new variable-length reader.
func NewVariableLengthReader(r io.Reader) *VariableLengthReader {
	return &VariableLengthReader{r: r}
}

// Read reads a variable-length encoded value.
// Values are encoded most significant group first, with the continuation bit
// (bit 7) set for all bytes except the last.
//
// A clean end of input before the first byte returns io.EOF; running out of
// input inside a value returns io.ErrUnexpectedEOF.
func (v *VariableLengthReader) Read() (uint32, error) {
	var result uint32
	for i := 0; ; i++ {
		var b [1]byte
		if _, err := io.ReadFull(v.r, b[:]); err != nil {
			if i > 0 && err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		if i >= maxVarLen || result>>25 != 0 {
			return 0, ErrOverflow
		}
		result = (result << 7) | uint32(b[0]&0x7F)
		if b[0]&0x80 == 0 {
			break
		}
	}
	return result, nil
}

// VariableLengthWriter writes variable-length encoded values.
type VariableLengthWriter struct {
	w io.Writer
}

// NewVariableLengthWriter creates a new variable-length writer.
func NewVariableLengthWriter(w io.Writer) *VariableLengthWriter {
	return &VariableLengthWriter{w: w}
}

// Write writes a value using variable-length encoding.
func (v *VariableLengthWriter) Write(val uint32) error {
	var buf [maxVarLen]byte
	_, err := v.w.Write(Append(buf[:0], val))
	return err
}

// Len returns the encoded size of val in bytes.
func Len(val uint32) int {
	n := 1
	for val >>= 7; val != 0; val >>= 7 {
		n++
	}
	return n
}

// Append appends the variable-length encoding of val to dst.
func Append(dst []byte, val uint32) []byte {
	n := Len(val)
	for i := n - 1; i >= 0; i-- {
		b := byte(val>>(7*uint(i))) & 0x7F
		if i > 0 {
			b |= 0x80 // Set continuation bit
		}
		dst = append(dst, b)
	}
	return dst
}
