package hub

import "sort"

// presence tracks the labels present in each room. A label is counted once per
// channel holding it, so it stays present until the last such channel detaches.
// It is not safe for concurrent use; the Hub guards it with its own lock.
type presence struct {
	rooms map[string]map[string]int
}

func newPresence() *presence {
	return &presence{rooms: make(map[string]map[string]int)}
}

func (p *presence) mark(roomID, label string) {
	if label == "" {
		return
	}
	labels, ok := p.rooms[roomID]
	if !ok {
		labels = make(map[string]int)
		p.rooms[roomID] = labels
	}
	labels[label]++
}

func (p *presence) unmark(roomID, label string) {
	labels, ok := p.rooms[roomID]
	if !ok || label == "" {
		return
	}
	if n := labels[label]; n > 1 {
		labels[label] = n - 1
		return
	}
	delete(labels, label)
	if len(labels) == 0 {
		delete(p.rooms, roomID)
	}
}

func (p *presence) has(roomID, label string) bool {
	_, ok := p.rooms[roomID][label]
	return ok
}

func (p *presence) labels(roomID string) []string {
	labels := p.rooms[roomID]
	out := make([]string, 0, len(labels))
	for label := range labels {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

func (p *presence) drop(roomID string) {
	delete(p.rooms, roomID)
}
