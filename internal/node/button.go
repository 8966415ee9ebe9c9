package node

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Press is a classified button press.
type Press int

const (
	PressShort Press = iota + 1
	PressLong
)

func (p Press) String() string {
	switch p {
	case PressShort:
		return "short"
	case PressLong:
		return "long"
	default:
		return fmt.Sprintf("press(%d)", int(p))
	}
}

func ParsePress(text string) (Press, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "short":
		return PressShort, nil
	case "long":
		return PressLong, nil
	default:
		return 0, fmt.Errorf("node: unknown press %q", text)
	}
}

// button turns raw down/up edges into presses. A long press fires while the
// button is still held; the matching release is then swallowed.
type button struct {
	cfg       ButtonConfig
	down      bool
	downAt    time.Time
	longFired bool
}

func (b *button) press(now time.Time) {
	if b.down {
		return
	}
	b.down = true
	b.downAt = now
	b.longFired = false
}

func (b *button) release(now time.Time) (Press, bool) {
	if !b.down {
		return 0, false
	}
	b.down = false
	held := now.Sub(b.downAt)
	switch {
	case b.longFired:
		return 0, false
	case held < b.cfg.Debounce:
		log.Debug().Dur("held", held).Msg("node button press debounced")
		return 0, false
	case held < b.cfg.LongPress:
		return PressShort, true
	default:
		return PressLong, true
	}
}

// held reports a long press once the button has been down long enough.
func (b *button) held(now time.Time) (Press, bool) {
	if !b.down || b.longFired || now.Sub(b.downAt) < b.cfg.LongPress {
		return 0, false
	}
	b.longFired = true
	return PressLong, true
}
