package node

import "github.com/danmuck/lightmesh/internal/status"

// State is one position of the connection state machine.
type State int

const (
	StateInit State = iota
	StateStandby
	StateLeaderWaitNetwork
	StateCommissionerStart
	StateCommissionerActive
	StateJoinerStart
	StateJoinerScan
	StateJoinerWaitBroadcast
	StateJoinerWaitAck
	StateJoinerPaired
	StateJoinerReconnect
	StateJoinerSeekingLeader
	StateError
)

var stateNames = map[State]string{
	StateInit:                "init",
	StateStandby:             "standby",
	StateLeaderWaitNetwork:   "leader_wait_network",
	StateCommissionerStart:   "commissioner_start",
	StateCommissionerActive:  "commissioner_active",
	StateJoinerStart:         "joiner_start",
	StateJoinerScan:          "joiner_scan",
	StateJoinerWaitBroadcast: "joiner_wait_broadcast",
	StateJoinerWaitAck:       "joiner_wait_ack",
	StateJoinerPaired:        "joiner_paired",
	StateJoinerReconnect:     "joiner_reconnect",
	StateJoinerSeekingLeader: "joiner_seeking_leader",
	StateError:               "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Pattern returns the indicator pattern shown while in s.
func (s State) Pattern() status.Pattern {
	switch s {
	case StateInit:
		return status.Solid(status.Orange)
	case StateStandby:
		return status.Solid(status.Blue)
	case StateLeaderWaitNetwork, StateCommissionerStart:
		return status.Blinking(status.DarkOrange)
	case StateCommissionerActive:
		return status.Blinking(status.Green)
	case StateJoinerStart:
		return status.Blinking(status.Cyan)
	case StateJoinerScan, StateJoinerReconnect:
		return status.Blinking(status.LightSkyBlue)
	case StateJoinerWaitBroadcast, StateJoinerWaitAck:
		return status.Blinking(status.Azure)
	case StateJoinerPaired:
		return status.Solid(status.Green)
	case StateJoinerSeekingLeader:
		return status.Blinking(status.Yellow)
	case StateError:
		return status.Blinking(status.Red)
	default:
		return status.Solid(status.Pink)
	}
}
