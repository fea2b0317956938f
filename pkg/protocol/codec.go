package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/bbqsrc/robust/internal/domain"
)

// Decoder converts a raw byte stream into discrete envelopes. Inbound
// bytes accumulate in a growable buffer; a frame boundary is the first
// '\n' byte and the remainder is retained for the next read. No maximum
// frame size is enforced beyond the transport's own buffering.
type Decoder struct {
	r   io.Reader
	buf bytes.Buffer
	tmp [4096]byte
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next returns the next complete envelope. A frame that is not valid JSON
// returns an error wrapping domain.ErrParse; the stream stays usable and
// the caller replies with a parser error instead of closing.
func (d *Decoder) Next() (Envelope, error) {
	for {
		if line, ok := d.takeLine(); ok {
			var env Envelope
			if err := json.Unmarshal(line, &env); err != nil {
				return nil, fmt.Errorf("%w: %s", domain.ErrParse, err)
			}
			return env, nil
		}

		n, err := d.r.Read(d.tmp[:])
		if n > 0 {
			d.buf.Write(d.tmp[:n])
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

// takeLine splits off everything before the first '\n', consuming the
// separator. Returns false when no complete frame is buffered yet.
func (d *Decoder) takeLine() ([]byte, bool) {
	data := d.buf.Bytes()
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return nil, false
	}
	line := make([]byte, i)
	copy(line, data[:i])
	d.buf.Next(i + 1)
	return line, true
}

// Marshal serializes v as one compact JSON frame with its trailing '\n'.
// No whitespace beyond the field separators is emitted.
func Marshal(v any) ([]byte, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return append(out, '\n'), nil
}

// Encoder serializes envelopes onto a byte stream.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one frame.
func (e *Encoder) Encode(v any) error {
	out, err := Marshal(v)
	if err != nil {
		return err
	}
	_, err = e.w.Write(out)
	return err
}
