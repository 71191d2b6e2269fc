package net

import "corekernel/kernel"

// Route is one entry of the routing table: a network reached either
// directly (Gateway unspecified) or via a gateway.
type Route struct {
	Network IPv4
	Netmask IPv4
	Gateway IPv4 // unspecified (0.0.0.0) for directly-connected routes
}

func maskMatches(addr, network, netmask IPv4) bool {
	for i := 0; i < 4; i++ {
		if addr[i]&netmask[i] != network[i]&netmask[i] {
			return false
		}
	}
	return true
}

func prefixLen(mask IPv4) int {
	n := 0
	for _, b := range mask {
		for b != 0 {
			n += int(b & 1)
			b >>= 1
		}
	}
	return n
}

var errNoRoute = &kernel.Error{Module: "net", Message: "no route to destination"}

// RoutingTable is an ordered set of routes; NextHop resolves the longest
// matching prefix, falling back to the zero-mask default route.
type RoutingTable struct {
	routes []Route
}

// NewRoutingTable builds a table for a directly-connected subnet with an
// optional default gateway, the shape original_source/net/ipv4.rs's
// RoutingTable::new covers, generalized to an arbitrary route set.
func NewRoutingTable(localIP, netmask IPv4, gateway *IPv4) *RoutingTable {
	t := &RoutingTable{}
	network := IPv4{localIP[0] & netmask[0], localIP[1] & netmask[1], localIP[2] & netmask[2], localIP[3] & netmask[3]}
	t.routes = append(t.routes, Route{Network: network, Netmask: netmask})
	if gateway != nil {
		t.routes = append(t.routes, Route{Netmask: IPv4{}, Gateway: *gateway})
	}
	return t
}

// AddRoute inserts a route into the table.
func (t *RoutingTable) AddRoute(r Route) {
	t.routes = append(t.routes, r)
}

// NextHop returns the IP to send the frame to for dest: dest itself when
// directly reachable, otherwise a matching gateway. Ties are broken by the
// longest netmask.
func (t *RoutingTable) NextHop(dest IPv4) (IPv4, *kernel.Error) {
	best := -1
	bestLen := -1
	for i, r := range t.routes {
		if !maskMatches(dest, r.Network, r.Netmask) {
			continue
		}
		if l := prefixLen(r.Netmask); l > bestLen {
			best, bestLen = i, l
		}
	}
	if best < 0 {
		return IPv4{}, errNoRoute
	}
	r := t.routes[best]
	if r.Gateway.IsUnspecified() {
		return dest, nil
	}
	return r.Gateway, nil
}
