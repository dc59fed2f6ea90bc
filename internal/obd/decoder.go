package obd

import (
	"strconv"
	"strings"
	"time"
)

// Process is the ingestion entry point handed to the transport. It
// notifies raw-line observers, reassembles fragmented replies and decodes
// the logical line. Raw observers see each physical line and, once both
// halves have arrived, the joined line. It returns the decoded value, or nil for noise,
// fragments, bus errors and rejected frames.
func (d *Device) Process(line string) Data {
	if line == "" {
		return nil
	}
	at := time.Now()
	d.events.RaiseRaw(line, at)

	d.fragMu.Lock()
	logical, ok := d.frags.Feed(line)
	d.fragMu.Unlock()
	if !ok {
		return nil
	}
	if logical != line {
		d.events.RaiseRaw(logical, at)
	}
	return d.decode(logical, at)
}

func (d *Device) decode(line string, at time.Time) Data {
	if line == "" {
		return nil
	}
	if strings.EqualFold(line, BusErrorSentinel) {
		d.events.RaiseBusError(line, at)
		return nil
	}
	if len(line) <= 4 {
		return nil
	}

	resMode, err := strconv.ParseUint(line[:2], 16, 8)
	if err != nil || resMode < responseOffset {
		return nil
	}
	mode := Mode(resMode - responseOffset)
	if mode != d.Mode() && !d.resolver.IsOverrideMode(mode) {
		d.debugf("dropping %q: mode %s not active", line, mode)
		return nil
	}

	entry, isLong, ok := d.lookupPID(line)
	if !ok {
		return nil
	}

	expected := entry.Mode
	if expected == ModeNone {
		expected = d.Mode()
	}
	if expected != mode {
		d.debugf("dropping %q: %s expects mode %s", line, entry.Type, expected)
		return nil
	}

	start := 4
	if isLong {
		start = 6
	}
	payload := ""
	if len(line) > start {
		payload = line[start:]
	}
	data := entry.New()
	if err := data.Load(payload); err != nil {
		d.debugf("dropping %q: %s: %v", line, entry.Type, err)
		return nil
	}

	d.events.Raise(entry.Type, data, at)
	return data
}

// lookupPID probes the cache with the two-byte PID first, then the
// one-byte PID. isLong is true when the matched type's PID equals the
// two-byte value, which selects the payload offset. Two bytes below 0x100
// cannot name a long PID and are looked up as one byte only.
func (d *Device) lookupPID(line string) (Entry, bool, bool) {
	longPID := -1
	if len(line) >= 6 {
		if v, err := strconv.ParseUint(line[2:6], 16, 16); err == nil && v > 0xFF {
			longPID = int(v)
			if e, ok := d.resolver.ByPID(longPID); ok {
				return e, e.PID == longPID, true
			}
		}
	}
	v, err := strconv.ParseUint(line[2:4], 16, 8)
	if err != nil {
		return Entry{}, false, false
	}
	e, ok := d.resolver.ByPID(int(v))
	if !ok {
		return Entry{}, false, false
	}
	return e, e.PID == longPID, true
}
