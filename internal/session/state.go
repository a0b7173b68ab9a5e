package session

import (
	"strconv"
)

// State is the connection state of one session.
type State uint8

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DisconnectReason explains why a session closed.
type DisconnectReason uint8

const (
	ReasonUnknown DisconnectReason = iota
	ReasonTransientNetwork
	ReasonLoggedOut
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonTransientNetwork:
		return "transient-network"
	case ReasonLoggedOut:
		return "logged-out"
	default:
		return "unknown"
	}
}

// Status codes surfaced by the protocol library when a session closes.
const (
	CodeLoggedOut          = 401
	CodeTemporaryBan       = 402
	CodeMainDeviceGone     = 403
	CodeClientOutdated     = 405
	CodeUnknownLogout      = 406
	CodeConnectionLost     = 408
	CodeConnectionClosed   = 428
	CodeStreamReplaced     = 440
	CodeBadSession         = 500
	CodeServiceUnavailable = 503
	CodeRestartRequired    = 515
)

// Classify maps a library status code to a disconnect reason.
func Classify(code int) DisconnectReason {
	switch code {
	case CodeLoggedOut, CodeMainDeviceGone, CodeUnknownLogout:
		return ReasonLoggedOut
	case CodeConnectionLost, CodeConnectionClosed, CodeBadSession, CodeServiceUnavailable, CodeRestartRequired:
		return ReasonTransientNetwork
	default:
		return ReasonUnknown
	}
}

// Version is the WhatsApp Web protocol version a session announces.
type Version struct {
	Major  uint32
	Minor  uint32
	Patch  uint32
	Latest bool
}

func (v Version) String() string {
	return strconv.FormatUint(uint64(v.Major), 10) + "." +
		strconv.FormatUint(uint64(v.Minor), 10) + "." +
		strconv.FormatUint(uint64(v.Patch), 10)
}

func (v Version) IsZero() bool {
	return v.Major == 0 && v.Minor == 0 && v.Patch == 0
}
