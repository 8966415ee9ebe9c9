package transport

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrCommandFailed = errors.New("transport: command failed")
	ErrClosed        = errors.New("transport: stream closed")
)

// Console runs commands against the mesh-stack command line and collects the
// datagram lines that arrive in between. Only the tick goroutine may call
// Execute, Submit, and Poll.
type Console struct {
	w      io.Writer
	r      *Reader
	closer io.Closer
	queue  []string

	closeOnce sync.Once
}

func NewConsole(rw io.ReadWriter, cfg ReaderConfig) *Console {
	c := &Console{
		w: rw,
		r: NewReader(rw, cfg),
	}
	if closer, ok := rw.(io.Closer); ok {
		c.closer = closer
	}
	return c
}

// Execute sends command and waits up to timeout for a response containing
// match. An empty match accepts the first response. The accumulated
// response text is returned even on error.
func (c *Console) Execute(command, match string, timeout time.Duration) (string, error) {
	c.drain()
	if err := c.write(command); err != nil {
		return "", err
	}
	log.Debug().Str("cmd", command).Msg("transport.Console.Execute")

	var all strings.Builder
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return all.String(), fmt.Errorf("%w: %q after %v", ErrTimeout, command, timeout)
		}
		line, err := c.r.NextLine(remaining)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				return all.String(), fmt.Errorf("%w: %q after %v", ErrTimeout, command, timeout)
			}
			return all.String(), fmt.Errorf("%w: %v", ErrClosed, err)
		}
		if line.Kind == KindDatagram {
			c.queue = append(c.queue, line.Text)
			continue
		}
		all.WriteString(line.Text)
		if match == "" || strings.Contains(line.Text, match) {
			return all.String(), nil
		}
		if c.isError(line.Text) {
			return all.String(), fmt.Errorf("%w: %q: %s", ErrCommandFailed, command, strings.TrimSpace(line.Text))
		}
	}
}

// Submit writes command without waiting for its response.
func (c *Console) Submit(command string) error {
	log.Trace().Str("cmd", command).Msg("transport.Console.Submit")
	return c.write(command)
}

// Poll returns datagram lines queued so far plus any that arrive within
// wait. Responses nobody waited for are logged and dropped.
func (c *Console) Poll(wait time.Duration) []string {
	c.drain()
	deadline := time.Now().Add(wait)
	for len(c.queue) == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		line, err := c.r.NextLine(remaining)
		if err != nil {
			if !errors.Is(err, ErrTimeout) {
				log.Warn().Err(err).Msg("transport.Console.Poll read failed")
			}
			break
		}
		c.route(line)
	}
	c.drain()
	out := c.queue
	c.queue = nil
	return out
}

func (c *Console) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.r.Stop()
		if c.closer != nil {
			err = c.closer.Close()
		}
	})
	return err
}

func (c *Console) drain() {
	for {
		line, ok := c.r.TryLine()
		if !ok {
			return
		}
		c.route(line)
	}
}

func (c *Console) route(line Line) {
	if line.Kind == KindDatagram {
		c.queue = append(c.queue, line.Text)
		return
	}
	log.Debug().Str("text", strings.TrimSpace(line.Text)).Bool("partial", line.Partial).Msg("transport.Console unclaimed response")
}

func (c *Console) isError(text string) bool {
	prefix := c.r.cfg.ErrorPrefix
	if prefix == "" {
		return false
	}
	for _, l := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(l), prefix) {
			return true
		}
	}
	return false
}

func (c *Console) write(command string) error {
	if _, err := io.WriteString(c.w, command+"\r\n"); err != nil {
		return fmt.Errorf("%w: write %q: %v", ErrClosed, command, err)
	}
	return nil
}
