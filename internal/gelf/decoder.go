package gelf

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Decode stages reported by DecodeError.
const (
	StageDecompress = "decompress"
	StageParse      = "parse"
)

// MaxMessageSize is the largest inflated message Decode accepts.
const MaxMessageSize = 16 * 1024 * 1024

// ErrTooLarge means a gzip frame inflated past the size limit.
var ErrTooLarge = errors.New("decompressed message exceeds size limit")

var gzipMagic = []byte{0x1f, 0x8b}

// DecodeError reports which stage of decoding rejected a frame.
type DecodeError struct {
	Stage string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("gelf %s: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsGzip reports whether data starts with the gzip magic number.
func IsGzip(data []byte) bool {
	return bytes.HasPrefix(data, gzipMagic)
}

// Decode is DecodeLimit with MaxMessageSize.
func Decode(data []byte) (Message, error) {
	return DecodeLimit(data, MaxMessageSize)
}

// DecodeLimit turns one frame into a Message. Gzip frames are inflated
// fully before parsing, up to limit bytes; anything else is read as UTF-8
// with invalid sequences replaced. Numbers are kept as json.Number so they
// serialize back unchanged.
func DecodeLimit(data []byte, limit int) (Message, error) {
	if limit <= 0 {
		limit = MaxMessageSize
	}

	raw := data
	if IsGzip(data) {
		inflated, err := gunzip(data, limit)
		if err != nil {
			return nil, &DecodeError{Stage: StageDecompress, Err: err}
		}
		raw = inflated
	}

	dec := json.NewDecoder(bytes.NewReader(bytes.ToValidUTF8(raw, []byte("�"))))
	dec.UseNumber()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return nil, &DecodeError{Stage: StageParse, Err: err}
	}
	if msg == nil {
		return nil, &DecodeError{Stage: StageParse, Err: errors.New("payload is not a JSON object")}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &DecodeError{Stage: StageParse, Err: errors.New("trailing data after JSON object")}
	}
	return msg, nil
}

// gunzip inflates data, reading one byte past limit to detect overflow.
func gunzip(data []byte, limit int) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return raw, nil
}
