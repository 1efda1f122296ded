package peersync

import "sort"

// Blacklist records, per resource, the peers that already failed it. It
// lives for one sync attempt and is not safe for concurrent use.
type Blacklist struct {
	m map[string]map[string]struct{}
}

// NewBlacklist returns an empty blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{m: make(map[string]map[string]struct{})}
}

// Add marks peer as failed for resource.
func (b *Blacklist) Add(resource, peer string) {
	set, ok := b.m[resource]
	if !ok {
		set = make(map[string]struct{})
		b.m[resource] = set
	}
	set[peer] = struct{}{}
}

// Contains reports whether peer failed resource.
func (b *Blacklist) Contains(resource, peer string) bool {
	_, ok := b.m[resource][peer]
	return ok
}

// Peers returns the peers blacklisted for resource, sorted.
func (b *Blacklist) Peers(resource string) []string {
	set := b.m[resource]
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of (resource, peer) pairs recorded.
func (b *Blacklist) Len() int {
	n := 0
	for _, set := range b.m {
		n += len(set)
	}
	return n
}
