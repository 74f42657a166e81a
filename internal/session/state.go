// Package session implements the TCP transport sessions between the companion
// process and its two peers: the wearable device (raw PCM in, text commands
// out) and the processing server (text lines both ways plus raw audio out).
//
// Both sessions share one lifecycle, modelled by [StateMachine]:
//
//	Idle ──► Connecting ──► Connected ──► Disconnecting ──► Idle
//	  ▲          │              │                │
//	  │          ▼              ▼                ▼
//	  └───── Failed ◄───────────┴────────────────┘
//
// A session owns its socket exclusively and closes it exactly once. Observable
// state is published as immutable [Status] snapshots.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Role identifies which peer a session talks to.
type Role string

const (
	RoleDevice Role = "device"
	RoleServer Role = "server"
	RoleLink   Role = "link"
)

// State is the lifecycle state of a session.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Disconnecting
	Failed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Reason tags attached to teardowns.
const (
	ReasonUserRequested  = "user requested"
	ReasonSendFailure    = "send failure"
	ReasonReceiveFailure = "receive failure"
	ReasonRemoteClosed   = "remote closed"
	ReasonConnectFailure = "connect failure"
	ReasonConnectionLost = "connection lost"
)

// legal lists the permitted transitions. Anything else is rejected.
var legal = map[State][]State{
	Idle:          {Connecting},
	Failed:        {Connecting},
	Connecting:    {Connected, Failed},
	Connected:     {Disconnecting, Idle, Failed},
	Disconnecting: {Idle, Failed},
}

// CanTransition reports whether from → to is a permitted edge.
func CanTransition(from, to State) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Status is an immutable snapshot of a session.
type Status struct {
	Role   Role
	State  State
	Reason string // why the session last left Connected/Connecting; required for Failed
	Detail string // underlying error text, if any
	Remote string // endpoint or device address; empty when Idle
	Since  time.Time
}

// Active reports whether the session is connecting or connected.
func (s Status) Active() bool {
	return s.State == Connecting || s.State == Connected
}

// String renders the status for logs and notifications, e.g.
// "server connected to 10.0.0.2:9000" or "device failed: send failure (broken pipe)".
func (s Status) String() string {
	out := string(s.Role) + " " + s.State.String()
	if s.Remote != "" && s.State != Idle {
		out += " to " + s.Remote
	}
	if s.Reason != "" && (s.State == Failed || s.State == Idle) {
		out += ": " + s.Reason
		if s.Detail != "" {
			out += " (" + s.Detail + ")"
		}
	}
	return out
}

// StateMachine guards the lifecycle of one session. Reads are lock-free via
// an atomic snapshot; transitions are serialised.
type StateMachine struct {
	role     Role
	onChange func(Status)

	mu  sync.Mutex
	cur atomic.Pointer[Status]
}

// NewStateMachine returns a machine in Idle. onChange, if non-nil, is called
// synchronously after every accepted transition and must not re-enter the
// machine.
func NewStateMachine(role Role, onChange func(Status)) *StateMachine {
	m := &StateMachine{role: role, onChange: onChange}
	m.cur.Store(&Status{Role: role, State: Idle, Since: time.Now()})
	return m
}

// Status returns the current snapshot.
func (m *StateMachine) Status() Status {
	return *m.cur.Load()
}

// Begin moves Idle or Failed to Connecting for remote. It returns false, and
// changes nothing, when the session is already active or disconnecting.
func (m *StateMachine) Begin(remote string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.cur.Load()
	if !CanTransition(cur.State, Connecting) {
		slog.Debug("session: connect ignored", "role", m.role, "state", cur.State)
		return false
	}
	m.store(&Status{Role: m.role, State: Connecting, Remote: remote, Since: time.Now()})
	return true
}

// Transition moves the machine to state to. reason and detail are recorded
// when leaving Connecting or Connected. Illegal edges are rejected and
// logged; the return value reports whether the transition happened.
func (m *StateMachine) Transition(to State, reason string, detail error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.cur.Load()
	if !CanTransition(cur.State, to) {
		slog.Debug("session: illegal transition rejected",
			"role", m.role,
			"from", cur.State,
			"to", to,
			"reason", reason,
		)
		return false
	}
	if to == Failed && reason == "" {
		reason = ReasonConnectionLost
	}

	next := &Status{Role: m.role, State: to, Reason: reason, Remote: cur.Remote, Since: time.Now()}
	if detail != nil {
		next.Detail = detail.Error()
	}
	if to == Idle {
		next.Remote = ""
	}
	if to == Connected {
		next.Reason = ""
	}
	m.store(next)
	return true
}

func (m *StateMachine) store(s *Status) {
	m.cur.Store(s)
	slog.Info("session state changed", "role", s.Role, "state", s.State, "remote", s.Remote, "reason", s.Reason)
	if m.onChange != nil {
		m.onChange(*s)
	}
}
