package transport

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ziutek/telnet"
)

var ErrUnsupportedEndpoint = errors.New("transport: unsupported endpoint")

// Dial opens the mesh-stack command line at endpoint. Supported forms:
// tcp://host:port (telnet), file:///dev/ttyACM0, or a bare device path.
func Dial(endpoint string, timeout time.Duration) (io.ReadWriteCloser, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: empty", ErrUnsupportedEndpoint)
	}
	if strings.HasPrefix(endpoint, "/") {
		return openDevice(endpoint)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedEndpoint, err)
	}
	switch u.Scheme {
	case "tcp", "telnet":
		conn, err := telnet.DialTimeout("tcp", u.Host, timeout)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", u.Host, err)
		}
		return conn, nil
	case "file":
		return openDevice(u.Path)
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedEndpoint, u.Scheme)
	}
}

func openDevice(path string) (io.ReadWriteCloser, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}
