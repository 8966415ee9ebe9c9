// Package status renders connection state onto a visual indicator.
package status

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Color is an RGB triple.
type Color struct {
	R, G, B uint8
}

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

var (
	Off          = Color{}
	Orange       = Color{255, 165, 0}
	DarkOrange   = Color{255, 140, 0}
	Blue         = Color{0, 0, 255}
	Green        = Color{0, 255, 0}
	Cyan         = Color{0, 255, 255}
	LightSkyBlue = Color{135, 206, 250}
	Azure        = Color{0, 128, 255}
	Yellow       = Color{255, 255, 0}
	Red          = Color{255, 0, 0}
	Pink         = Color{255, 0, 255}
)

// Pattern is what the indicator should show for one state.
type Pattern struct {
	Color Color
	Blink bool
}

func Solid(c Color) Pattern    { return Pattern{Color: c} }
func Blinking(c Color) Pattern { return Pattern{Color: c, Blink: true} }

// BlinkPeriod is the on/off toggle interval of blinking patterns.
const BlinkPeriod = 500 * time.Millisecond

// ColorAt resolves p to the color lit at now.
func (p Pattern) ColorAt(now time.Time) Color {
	if !p.Blink {
		return p.Color
	}
	if (now.UnixNano()/int64(BlinkPeriod))%2 == 0 {
		return p.Color
	}
	return Off
}

// Indicator shows a color. Implementations drive an LED, a UI, or a log.
type Indicator interface {
	Show(state string, p Pattern, lit Color)
}

// LogIndicator logs pattern changes and remembers the last one shown.
type LogIndicator struct {
	mu      sync.Mutex
	state   string
	pattern Pattern
	lit     Color
}

func NewLogIndicator() *LogIndicator {
	return &LogIndicator{}
}

func (l *LogIndicator) Show(state string, p Pattern, lit Color) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if state != l.state || p != l.pattern {
		log.Debug().Str("state", state).Str("color", p.Color.String()).Bool("blink", p.Blink).Msg("status pattern")
	}
	l.state = state
	l.pattern = p
	l.lit = lit
}

// Current returns the last pattern and lit color.
func (l *LogIndicator) Current() (string, Pattern, Color) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.pattern, l.lit
}
