package orders

// tagRing is a bounded ring of recently issued order tags. When it wraps,
// the oldest tag becomes reusable; the capacity bounds how many in-flight
// orders can be correlated at once.
type tagRing struct {
	slots []string
	head  int
	count int
}

func newTagRing(capacity int) *tagRing {
	if capacity <= 0 {
		capacity = 300
	}
	return &tagRing{slots: make([]string, capacity)}
}

// record stores a tag, overwriting the oldest entry once full.
func (r *tagRing) record(tag string) {
	r.slots[r.head] = tag
	r.head = (r.head + 1) % len(r.slots)
	if r.count < len(r.slots) {
		r.count++
	}
}

// last returns the most recently recorded tag, or "" when empty.
func (r *tagRing) last() string {
	if r.count == 0 {
		return ""
	}
	idx := (r.head - 1 + len(r.slots)) % len(r.slots)
	return r.slots[idx]
}

// contains reports whether the tag is still inside the ring window.
func (r *tagRing) contains(tag string) bool {
	for i := 0; i < r.count; i++ {
		if r.slots[i] == tag {
			return true
		}
	}
	return false
}
