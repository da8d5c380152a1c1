package storage

import (
	"errors"
	"io"
)

// DefaultChunkSize is the read size used when streaming uploads.
const DefaultChunkSize = 256 << 10

// ProgressFunc receives the whole-number percentage written so far. It is
// called only when the percentage grows, and always ends with 100 on EOF.
type ProgressFunc func(percent int)

// ProgressReader streams an upload in fixed-size chunks and reports progress.
// It is seekable when the wrapped reader is, which S3 needs for signing; a
// rewind does not report lower percentages.
type ProgressReader struct {
	r         io.Reader
	total     int64
	chunkSize int
	read      int64
	reported  int
	onChange  ProgressFunc
}

func NewProgressReader(r io.Reader, total int64, chunkSize int, fn ProgressFunc) *ProgressReader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ProgressReader{r: r, total: total, chunkSize: chunkSize, reported: -1, onChange: fn}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	if len(b) > p.chunkSize {
		b = b[:p.chunkSize]
	}
	n, err := p.r.Read(b)
	p.read += int64(n)
	if errors.Is(err, io.EOF) {
		p.report(100)
	} else if p.total > 0 {
		p.report(int(p.read * 100 / p.total))
	}
	return n, err
}

func (p *ProgressReader) Seek(offset int64, whence int) (int64, error) {
	seeker, ok := p.r.(io.Seeker)
	if !ok {
		return 0, errors.New("progress reader: underlying reader is not seekable")
	}
	pos, err := seeker.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	p.read = pos
	return pos, nil
}

func (p *ProgressReader) report(percent int) {
	if percent > 100 {
		percent = 100
	}
	if percent <= p.reported || p.onChange == nil {
		return
	}
	p.reported = percent
	p.onChange(percent)
}
