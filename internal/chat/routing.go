package chat

// resolver maps an inbound channel name to a room id. Resolvers are tried
// in fixed priority order; the first match wins so a frame is never routed
// twice.
type resolver func(channel string) (int64, bool)

// resolveRoom runs the resolver chain. Callers must hold m.mu.
func (m *Mux) resolveRoom(channel string) (int64, bool) {
	for _, r := range []resolver{
		m.resolveVariant,
		m.resolveOwner,
		m.resolveLivestream,
		m.resolveRecorded,
	} {
		if id, ok := r(channel); ok {
			return id, true
		}
	}
	return 0, false
}

// resolveVariant matches the channel against each room's derived
// channel-name variants.
func (m *Mux) resolveVariant(channel string) (int64, bool) {
	for id, room := range m.rooms {
		for _, c := range room.Channels {
			if c == channel {
				return id, true
			}
		}
	}
	return 0, false
}

// resolveOwner parses an owner-scoped channel name and maps it through the
// owner id recorded per room.
func (m *Mux) resolveOwner(channel string) (int64, bool) {
	owner, ok := parseOwnerChannel(channel)
	if !ok {
		return 0, false
	}
	for id, room := range m.rooms {
		if room.OwnerID == owner {
			return id, true
		}
	}
	return 0, false
}

// resolveLivestream parses a livestream-scoped channel name and maps it
// through each room's currently-known live session id.
func (m *Mux) resolveLivestream(channel string) (int64, bool) {
	session, ok := parseLivestreamChannel(channel)
	if !ok {
		return 0, false
	}
	for id, room := range m.rooms {
		if room.LiveSessionID != 0 && room.LiveSessionID == session {
			return id, true
		}
	}
	return 0, false
}

// resolveRecorded matches the raw channel string against each room's
// recorded subscription list.
func (m *Mux) resolveRecorded(channel string) (int64, bool) {
	for id, room := range m.rooms {
		for _, c := range room.Subscribed {
			if c == channel {
				return id, true
			}
		}
	}
	return 0, false
}
