// Package compress wraps a byte stream in a streaming gzip transform.
package compress

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/newthinker/dbbackup/internal/core"
)

const copyBufferSize = 256 * 1024

// Compressor gzips a stream without holding the plaintext in memory
type Compressor struct {
	level int
}

// New creates a Compressor for the given gzip level (-1 selects the default)
func New(level int) (*Compressor, error) {
	if _, err := gzip.NewWriterLevel(io.Discard, level); err != nil {
		return nil, core.WrapError(core.ErrCompressionFailed, fmt.Errorf("level %d: %w", level, err))
	}
	return &Compressor{level: level}, nil
}

// Compress returns the gzip encoding of src as a stream. Errors reading src
// are passed through unchanged; codec failures become COMPRESSION_FAILED.
// Closing the returned reader early stops the encoder.
func (c *Compressor) Compress(src io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		pw.CloseWithError(c.encode(pw, src))
	}()

	return pr
}

func (c *Compressor) encode(dst io.Writer, src io.Reader) error {
	zw, err := gzip.NewWriterLevel(dst, c.level)
	if err != nil {
		return core.WrapError(core.ErrCompressionFailed, err)
	}

	sr := &sourceReader{r: src}
	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(zw, sr, buf); err != nil {
		if sr.err != nil {
			return sr.err
		}
		if errors.Is(err, io.ErrClosedPipe) {
			return err
		}
		return core.WrapError(core.ErrCompressionFailed, err)
	}

	if err := zw.Close(); err != nil {
		return core.WrapError(core.ErrCompressionFailed, fmt.Errorf("flushing gzip stream: %w", err))
	}
	return nil
}

// sourceReader remembers read errors so they can be told apart from codec errors
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
	}
	return n, err
}
