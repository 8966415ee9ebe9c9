package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNoSource  = errors.New("transport: datagram missing source address")
	ErrNoPayload = errors.New("transport: datagram missing payload")
)

// Datagram is a parsed "<n> bytes from <addr> <port> <hex>" line.
type Datagram struct {
	Source string
	Port   uint16
	Length int
	Hex    string
}

func ParseDatagram(line string) (Datagram, error) {
	fields := strings.Fields(line)
	from := -1
	for i, f := range fields {
		if f == "from" {
			from = i
			break
		}
	}
	if from < 0 || from+1 >= len(fields) {
		return Datagram{}, fmt.Errorf("%w: %q", ErrNoSource, line)
	}
	d := Datagram{Source: fields[from+1]}
	if from+3 >= len(fields) {
		return Datagram{}, fmt.Errorf("%w: %q", ErrNoPayload, line)
	}
	if port, err := strconv.ParseUint(fields[from+2], 10, 16); err == nil {
		d.Port = uint16(port)
	}
	if from >= 2 {
		if n, err := strconv.Atoi(fields[from-2]); err == nil {
			d.Length = n
		}
	}
	d.Hex = fields[len(fields)-1]
	return d, nil
}

// SendCommand renders the mesh-stack command that sends hex to addr:port.
func SendCommand(addr string, port uint16, hex string) string {
	return fmt.Sprintf("udp send %s %d %s", addr, port, hex)
}
