package mesh

// Leadership is not a one-time join flag: the leader is derived from
// membership alone, deterministically, and recomputed on every change.
// Every member arrives at the same answer without coordination.

// Leader returns the current leader id, empty while not in a room.
func (m *Mesh) Leader() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leader
}

// IsLeader reports whether we currently lead the room.
func (m *Mesh) IsLeader() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leader != "" && m.leader == m.self
}

// electLeader picks the lexicographically smallest member id.
func (m *Mesh) electLeader() {
	m.mu.Lock()
	elected := ""
	for id := range m.members {
		if elected == "" || id < elected {
			elected = id
		}
	}
	changed := elected != m.leader
	m.leader = elected
	m.mu.Unlock()
	if changed {
		m.log.Debug().Msgf("leader %v", elected)
		m.OnLeaderChange.Emit(elected)
	}
}
