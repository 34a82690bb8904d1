package server

// connRegistry maps a user to the connections currently bound to them. A
// user has an entry only while they have at least one connection.
type connRegistry struct {
	conns map[int]map[*Client]struct{}
}

func newConnRegistry() *connRegistry {
	return &connRegistry{conns: make(map[int]map[*Client]struct{})}
}

// add records c under userId and reports whether it is the user's first
// connection.
func (r *connRegistry) add(userId int, c *Client) bool {
	set, ok := r.conns[userId]
	if !ok {
		set = make(map[*Client]struct{})
		r.conns[userId] = set
	}
	set[c] = struct{}{}

	return !ok
}

// forget removes c from its user's set. It reports true when that was the
// user's last connection. Unbound connections are ignored.
func (r *connRegistry) forget(c *Client) bool {
	if c.userId == 0 {
		return false
	}

	set, ok := r.conns[c.userId]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}

	delete(set, c)
	if len(set) > 0 {
		return false
	}

	delete(r.conns, c.userId)
	return true
}

func (r *connRegistry) connectionsFor(userId int) []*Client {
	set := r.conns[userId]
	conns := make([]*Client, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}

	return conns
}

func (r *connRegistry) isConnected(userId int) bool {
	_, ok := r.conns[userId]
	return ok
}
