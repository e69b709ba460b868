package mixer

import (
	"errors"
	"fmt"
	"math"
)

const systemSessionDisplayName = "System Sounds"

var errNoSuchProcess = errors.New("no such process")

// sessionMap partitions raw sessions by grouping identity, keeping first-seen order
type sessionMap struct {
	m     map[GroupID][]RawSession
	order []GroupID
}

func newSessionMap(sessions []RawSession) *sessionMap {
	m := &sessionMap{
		m: make(map[GroupID][]RawSession),
	}

	for _, session := range sessions {
		m.add(session)
	}

	return m
}

func (m *sessionMap) add(session RawSession) {
	existing, ok := m.m[session.GroupID]
	if !ok {
		m.order = append(m.order, session.GroupID)
	}
	m.m[session.GroupID] = append(existing, session)
}

func (m *sessionMap) iterate(f func(id GroupID, members []RawSession)) {
	for _, id := range m.order {
		f(id, m.m[id])
	}
}

func (m *sessionMap) String() string {
	sessionCount := 0
	for _, members := range m.m {
		sessionCount += len(members)
	}

	return fmt.Sprintf("<%d audio sessions in %d groups>", sessionCount, len(m.order))
}

// AggregateSessions reduces the raw sessions of one device into one SessionGroup per grouping identity.
// callers must not rely on the order of the result
func AggregateSessions(sessions []RawSession, names ProcessNamer) []SessionGroup {
	groups := []SessionGroup{}

	newSessionMap(sessions).iterate(func(id GroupID, members []RawSession) {
		if group, ok := aggregateGroup(id, members, names); ok {
			groups = append(groups, group)
		}
	})

	return groups
}

func aggregateGroup(id GroupID, members []RawSession, names ProcessNamer) (SessionGroup, bool) {
	if len(members) == 0 {
		return SessionGroup{}, false
	}

	pid := members[0].ProcessID
	if pid == UnknownProcessID {
		return SessionGroup{}, false
	}

	var (
		total    float64
		numeric  int
		muted    bool
		isActive bool
	)

	for _, member := range members {
		if !math.IsNaN(float64(member.Volume)) {
			total += float64(member.Volume)
			numeric++
		}

		muted = muted || member.Muted

		if member.State == SessionActive {
			isActive = true
		}
	}

	level := float32(0)
	if numeric > 0 {
		level = float32(total / float64(numeric) * MaxVolume)
	}

	state := SessionInactive
	if isActive {
		state = SessionActive
	}

	return SessionGroup{
		ID:          id,
		DisplayName: displayName(pid, names),
		VolumeLevel: level,
		State:       state,
		Muted:       muted,
	}, true
}

func displayName(pid int, names ProcessNamer) string {
	// pid 0 is the system sounds session on windows
	if pid == 0 {
		return systemSessionDisplayName
	}

	if names != nil {
		if name, err := names.ProcessName(pid); err == nil && name != "" {
			return name
		}
	}

	return fmt.Sprintf("PID %d", pid)
}
