package transport

import "sort"

// Set is a registry of peers. It is not safe for concurrent use; the owning
// event loop is its only caller.
type Set struct {
	peers map[string]*Peer
}

func NewSet() *Set { return &Set{peers: make(map[string]*Peer)} }

func (s *Set) Add(p *Peer)         { s.peers[p.ID()] = p }
func (s *Set) Remove(p *Peer)      { delete(s.peers, p.ID()) }
func (s *Set) Len() int            { return len(s.peers) }
func (s *Set) Has(p *Peer) bool    { return s.peers[p.ID()] == p }
func (s *Set) Get(id string) *Peer { return s.peers[id] }

// Peers returns the members ordered by id.
func (s *Set) Peers() []*Peer {
	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Broadcast enqueues msg on every member. Members found closed, or that close
// while enqueueing, are removed and returned.
func (s *Set) Broadcast(msg []byte) (delivered int, pruned []*Peer) {
	for id, p := range s.peers {
		if err := p.Enqueue(msg); err != nil {
			delete(s.peers, id)
			pruned = append(pruned, p)
			continue
		}
		delivered++
	}
	return delivered, pruned
}

// CloseAll closes and forgets every member.
func (s *Set) CloseAll() {
	for id, p := range s.peers {
		p.Close()
		delete(s.peers, id)
	}
}
