package obd

// Reassembler joins replies the adapter split across two lines prefixed
// "0:" and "1:". It holds at most one pending fragment; a new "0:" replaces
// any incomplete one. Not safe for concurrent use; the link delivers lines
// from a single goroutine.
type Reassembler struct {
	pending string
}

// Feed returns the logical line for raw, or false while a fragment is held
// or the line is a chunk other than the first two.
func (r *Reassembler) Feed(raw string) (string, bool) {
	if len(raw) < 2 || raw[1] != ':' || raw[0] < '0' || raw[0] > '9' {
		return raw, true
	}
	switch raw[0] {
	case '0':
		r.pending = raw[2:]
		return "", false
	case '1':
		line := r.pending + raw[2:]
		r.pending = ""
		return line, true
	}
	return "", false
}

// Pending returns the held first-half fragment, if any.
func (r *Reassembler) Pending() string { return r.pending }

// Reset drops any held fragment.
func (r *Reassembler) Reset() { r.pending = "" }
