package session

const subscriberBuffer = 64

// Subscribe returns a channel of events and a cancel func. Slow
// subscribers miss events rather than stall the state machine.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()

	return ch, func() {
		m.subsMu.Lock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
		m.subsMu.Unlock()
	}
}

// emitLocked stamps ev with the current state and session and fans it out.
// Caller holds mu.
func (m *Manager) emitLocked(ev Event) {
	ev.State = m.state
	ev.At = m.clock.Now()
	if ev.Session == nil {
		ev.Session = m.snapshotLocked()
	}

	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
