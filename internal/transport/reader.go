package transport

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrTimeout = errors.New("transport: timeout")

type LineKind int

const (
	KindResponse LineKind = iota
	KindDatagram
)

func (k LineKind) String() string {
	if k == KindDatagram {
		return "datagram"
	}
	return "response"
}

// Line is one classified unit of mesh-stack output. Responses may span
// several physical lines joined by "\n".
type Line struct {
	Kind LineKind
	Text string
	// Partial marks a response flushed on timeout before its terminator.
	Partial bool
}

// ReaderConfig controls line classification.
type ReaderConfig struct {
	DatagramKeyword string
	ListenPort      uint16
	Terminator      string
	ErrorPrefix     string
	ChunkSize       int
}

func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		DatagramKeyword: "bytes from",
		ListenPort:      12345,
		Terminator:      "Done",
		ErrorPrefix:     "Error",
		ChunkSize:       256,
	}
}

type chunk struct {
	data []byte
	err  error
}

// Reader assembles mesh-stack output into lines. One goroutine pumps bytes
// from the source; assembly happens on the caller's goroutine. A Reader is
// not safe for concurrent use.
type Reader struct {
	cfg       ReaderConfig
	port      string
	chunks    chan chunk
	done      chan struct{}
	stopOnce  sync.Once
	line      strings.Builder
	multiline strings.Builder
	ready     []Line
	err       error
}

func NewReader(src io.Reader, cfg ReaderConfig) *Reader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultReaderConfig().ChunkSize
	}
	r := &Reader{
		cfg:    cfg,
		port:   strconv.Itoa(int(cfg.ListenPort)),
		chunks: make(chan chunk, 64),
		done:   make(chan struct{}),
	}
	go r.pump(src)
	return r
}

func (r *Reader) pump(src io.Reader) {
	defer close(r.chunks)
	buf := make([]byte, r.cfg.ChunkSize)
	for {
		select {
		case <-r.done:
			return
		default:
		}
		n, err := src.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !r.deliver(chunk{data: data}) {
				return
			}
		}
		if err != nil {
			r.deliver(chunk{err: err})
			return
		}
	}
}

func (r *Reader) deliver(c chunk) bool {
	select {
	case r.chunks <- c:
		return true
	case <-r.done:
		return false
	}
}

// Stop releases the pump goroutine. It returns once the source's pending
// Read does; closing the source unblocks that.
func (r *Reader) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// NextLine returns the next classified line, waiting at most timeout. When
// the wait expires with an unterminated response buffered, that buffer is
// returned with Partial set; otherwise ErrTimeout. io.EOF reports a closed
// source once everything buffered was returned.
func (r *Reader) NextLine(timeout time.Duration) (Line, error) {
	if line, ok := r.pop(); ok {
		return line, nil
	}
	if r.err != nil {
		return r.drained()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case c, ok := <-r.chunks:
			if !ok {
				r.fail(io.EOF)
			} else {
				r.consume(c.data)
				if c.err != nil {
					r.fail(c.err)
				}
			}
			if line, ok := r.pop(); ok {
				return line, nil
			}
			if r.err != nil {
				return r.drained()
			}
		case <-timer.C:
			if line, ok := r.flushPartial(); ok {
				return line, nil
			}
			return Line{}, ErrTimeout
		}
	}
}

// TryLine returns a line only if one can be assembled from bytes that
// already arrived.
func (r *Reader) TryLine() (Line, bool) {
	for {
		if line, ok := r.pop(); ok {
			return line, true
		}
		if r.err != nil {
			return Line{}, false
		}
		select {
		case c, ok := <-r.chunks:
			if !ok {
				r.fail(io.EOF)
				continue
			}
			r.consume(c.data)
			if c.err != nil {
				r.fail(c.err)
			}
		default:
			return Line{}, false
		}
	}
}

func (r *Reader) consume(data []byte) {
	for _, b := range data {
		if b == '\r' || b == '\n' {
			r.endLine()
			continue
		}
		r.line.WriteByte(b)
	}
}

func (r *Reader) endLine() {
	if r.line.Len() == 0 {
		return
	}
	text := r.line.String()
	r.line.Reset()

	if r.isDatagram(text) {
		if r.multiline.Len() > 0 {
			log.Debug().Str("discarded", r.multiline.String()).Msg("transport.Reader datagram interrupted response")
			r.multiline.Reset()
		}
		r.ready = append(r.ready, Line{Kind: KindDatagram, Text: text})
		return
	}

	r.multiline.WriteString(text)
	r.multiline.WriteByte('\n')
	if r.isTerminator(text) {
		r.ready = append(r.ready, Line{Kind: KindResponse, Text: r.multiline.String()})
		r.multiline.Reset()
	}
}

func (r *Reader) isDatagram(text string) bool {
	return strings.Contains(text, r.cfg.DatagramKeyword) && strings.Contains(text, r.port)
}

func (r *Reader) isTerminator(text string) bool {
	if r.cfg.Terminator != "" && strings.Contains(text, r.cfg.Terminator) {
		return true
	}
	return r.cfg.ErrorPrefix != "" && strings.HasPrefix(strings.TrimSpace(text), r.cfg.ErrorPrefix)
}

func (r *Reader) pop() (Line, bool) {
	if len(r.ready) == 0 {
		return Line{}, false
	}
	line := r.ready[0]
	r.ready = r.ready[1:]
	return line, true
}

func (r *Reader) flushPartial() (Line, bool) {
	if r.multiline.Len() == 0 {
		return Line{}, false
	}
	text := r.multiline.String()
	r.multiline.Reset()
	log.Debug().Str("text", text).Msg("transport.Reader flushed unterminated response")
	return Line{Kind: KindResponse, Text: text, Partial: true}, true
}

func (r *Reader) fail(err error) {
	if r.err != nil {
		return
	}
	r.endLine()
	r.err = err
}

func (r *Reader) drained() (Line, error) {
	if line, ok := r.flushPartial(); ok {
		return line, nil
	}
	return Line{}, r.err
}
