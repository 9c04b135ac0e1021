// Package discovery implements network auto-discovery for Contexts
// opened with an empty host (spec §4.6 "Auto-discovery", the "ip:"
// URI scheme with no host): browse DNS-SD for "_iio._tcp", port-knock
// each candidate, deduplicate by (hostname, ip, port), and drop
// loopback entries.
//
// The DNS-SD browse itself is internal/mdns, kept from the teacher
// repo unchanged; this package adds the validation and dedup pass the
// browse alone doesn't do.
package discovery

import (
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/rjboer/iiogo/internal/ioerr"
	"github.com/rjboer/iiogo/internal/mdns"
)

// Candidate is one validated, reachable IIOD server.
type Candidate struct {
	Hostname string
	Address  net.IP
	Port     int
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// dialFunc is swappable so tests can fake the port-knock without real
// sockets.
type dialFunc func(network, address string, timeout time.Duration) (net.Conn, error)

// Browser performs DNS-SD discovery and validates candidates with a
// TCP port-knock (connect immediately followed by close).
type Browser struct {
	dial dialFunc
}

// New returns a Browser that port-knocks with net.DialTimeout.
func New() *Browser {
	return &Browser{dial: net.DialTimeout}
}

// Discover browses for timeoutSeconds, port-knocks every candidate
// concurrently, and returns the deduplicated, non-loopback survivors
// sorted by address for deterministic ordering.
func (b *Browser) Discover(timeoutSeconds int) ([]Candidate, error) {
	hosts, err := mdns.DiscoverIIOD(timeoutSeconds)
	if err != nil {
		return nil, ioerr.Wrap(ioerr.Broken, "DNS-SD browse failed", err)
	}

	type result struct {
		c  Candidate
		ok bool
	}
	jobs := 0
	results := make(chan result)
	for _, h := range hosts {
		for _, addr := range h.Addresses {
			if addr.IsLoopback() {
				continue
			}
			jobs++
			go func(hostname string, addr net.IP, port int) {
				ok := b.knock(addr, port)
				results <- result{Candidate{Hostname: hostname, Address: addr, Port: port}, ok}
			}(h.Hostname, addr, h.Port)
		}
	}

	seen := make(map[string]bool)
	var out []Candidate
	for i := 0; i < jobs; i++ {
		r := <-results
		if !r.ok {
			continue
		}
		key := fmt.Sprintf("%s|%s|%d", r.c.Hostname, r.c.Address, r.c.Port)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r.c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Address.String() != out[j].Address.String() {
			return out[i].Address.String() < out[j].Address.String()
		}
		return out[i].Port < out[j].Port
	})
	return out, nil
}

// knock opens and immediately closes a TCP connection to validate
// that an IIOD server is actually listening at addr:port, per spec
// §4.6's "port-knock each candidate (open+close)".
func (b *Browser) knock(addr net.IP, port int) bool {
	conn, err := b.dial("tcp", fmt.Sprintf("%s:%d", addr, port), 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
