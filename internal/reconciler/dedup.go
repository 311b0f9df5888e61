package reconciler

// DefaultDedupWindow is the number of recent event fingerprints remembered.
const DefaultDedupWindow = 4096

// fingerprintWindow remembers the most recent fingerprints in insertion
// order, evicting the oldest once full. Fingerprints are also indexed by
// certification key so one certification's entries can be dropped
// together. Loop-owned.
type fingerprintWindow struct {
	seen   map[string]windowEntry
	byCert map[string]map[string]struct{}
	ring   []string
	next   int
}

type windowEntry struct {
	certKey string
	slot    int

	// revisable marks non-terminal updates, which a later update of the
	// same certification supersedes.
	revisable bool
}

func newFingerprintWindow(size int) *fingerprintWindow {
	if size <= 0 {
		size = DefaultDedupWindow
	}
	return &fingerprintWindow{
		seen:   make(map[string]windowEntry, size),
		byCert: make(map[string]map[string]struct{}),
		ring:   make([]string, size),
	}
}

// Contains reports whether fp is in the window.
func (w *fingerprintWindow) Contains(fp string) bool {
	_, ok := w.seen[fp]
	return ok
}

// Add records fp for certKey, evicting the oldest entry if the window is full.
func (w *fingerprintWindow) Add(certKey, fp string, revisable bool) {
	if w.Contains(fp) {
		return
	}
	if old := w.ring[w.next]; old != "" {
		// The slot may be stale if old was forgotten or re-added since.
		if e, ok := w.seen[old]; ok && e.slot == w.next {
			w.remove(old, e)
		}
	}
	w.ring[w.next] = fp
	w.seen[fp] = windowEntry{certKey: certKey, slot: w.next, revisable: revisable}
	certs := w.byCert[certKey]
	if certs == nil {
		certs = make(map[string]struct{})
		w.byCert[certKey] = certs
	}
	certs[fp] = struct{}{}
	w.next = (w.next + 1) % len(w.ring)
}

// Supersede forgets the revisable fingerprints of certKey other than keep,
// so an older update that arrives again after a newer one is applied again.
func (w *fingerprintWindow) Supersede(certKey, keep string) {
	for fp := range w.byCert[certKey] {
		if fp == keep {
			continue
		}
		if e := w.seen[fp]; e.revisable {
			w.remove(fp, e)
		}
	}
}

// Forget drops every fingerprint of certKey.
func (w *fingerprintWindow) Forget(certKey string) {
	for fp := range w.byCert[certKey] {
		w.remove(fp, w.seen[fp])
	}
}

// Len returns the number of remembered fingerprints.
func (w *fingerprintWindow) Len() int {
	return len(w.seen)
}

func (w *fingerprintWindow) remove(fp string, e windowEntry) {
	delete(w.seen, fp)
	if certs := w.byCert[e.certKey]; certs != nil {
		delete(certs, fp)
		if len(certs) == 0 {
			delete(w.byCert, e.certKey)
		}
	}
}
