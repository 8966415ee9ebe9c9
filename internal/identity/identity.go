// Package identity derives the 64-bit node identity exchanged during pairing.
package identity

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
	"strings"
)

// Len is the wire width of a Hash.
const Len = 8

var (
	ErrEmptyHash   = errors.New("identity: empty hash payload")
	ErrNoHardware  = errors.New("identity: no hardware address available")
	ErrInvalidHash = errors.New("identity: invalid hash text")
)

// Hash identifies a node across address changes.
type Hash uint64

func (h Hash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// Bytes returns the big-endian wire form.
func (h Hash) Bytes() []byte {
	b := make([]byte, Len)
	binary.BigEndian.PutUint64(b, uint64(h))
	return b
}

// FromBytes reads up to eight big-endian bytes. Longer payloads are
// truncated to their first eight bytes.
func FromBytes(b []byte) (Hash, error) {
	if len(b) == 0 {
		return 0, ErrEmptyHash
	}
	if len(b) > Len {
		b = b[:Len]
	}
	var h uint64
	for _, c := range b {
		h = h<<8 | uint64(c)
	}
	return Hash(h), nil
}

// Parse reads the 16 hex digit text form.
func Parse(text string) (Hash, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(text), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHash, text)
	}
	return Hash(v), nil
}

// FromHardwareAddr hashes a MAC address with 64-bit FNV-1a.
func FromHardwareAddr(mac net.HardwareAddr) Hash {
	h := fnv.New64a()
	_, _ = h.Write(mac)
	return Hash(h.Sum64())
}

// FromSeed hashes an operator supplied identity string.
func FromSeed(seed string) Hash {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	return Hash(h.Sum64())
}

// Local returns the identity of this host. A non-empty seed wins; otherwise
// the first up, non-loopback interface with a hardware address is hashed.
func Local(seed string) (Hash, error) {
	if seed = strings.TrimSpace(seed); seed != "" {
		return FromSeed(seed), nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoHardware, err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return FromHardwareAddr(iface.HardwareAddr), nil
	}
	return 0, ErrNoHardware
}
