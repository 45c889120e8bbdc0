package directory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// Status is the in-memory lifecycle state of a camera.
type Status string

const (
	StatusPending Status = "pending"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// ErrUnknownCamera is returned when an operation needs an existing entry.
var ErrUnknownCamera = errors.New("camera not registered")

// Transport is the live connection a camera is reachable over.
type Transport interface {
	// Send delivers a control message to the camera.
	Send(ctx context.Context, payload []byte) error
	// Close terminates the connection.
	Close() error
}

// Entry is a snapshot of one camera in the directory. An empty OwnerID
// means the camera is unclaimed. Transport is non-nil iff Status is online.
type Entry struct {
	CameraID    string
	OwnerID     string
	Name        string
	Status      Status
	Transport   Transport
	ConnectedAt time.Time
	LastFrameAt time.Time
}

// Claimed reports whether the camera has an owner.
func (e *Entry) Claimed() bool {
	return e.OwnerID != ""
}

// Directory maps camera identities to owners and live transports. It is
// rebuilt from camera reconnects after a restart; the database stays the
// source of truth for ownership.
type Directory struct {
	entries map[string]*Entry
	mu      sync.RWMutex

	locks keyedMutex
}

func New() *Directory {
	return &Directory{
		entries: make(map[string]*Entry),
		locks:   keyedMutex{locks: make(map[string]*keyLock)},
	}
}

// Exclusive runs fn while holding the lock for cameraID. Directory methods
// may be called from fn; only other Exclusive callers for the same identity
// are blocked.
func (d *Directory) Exclusive(ctx context.Context, cameraID string, fn func() error) error {
	if err := d.locks.lock(ctx, cameraID); err != nil {
		return err
	}
	defer d.locks.unlock(cameraID)
	return fn()
}

// Register inserts or updates an entry. Empty name or owner leave the stored
// value unchanged. New entries start pending without a transport.
func (d *Directory) Register(cameraID, name, ownerID string) Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[cameraID]
	if !ok {
		e = &Entry{CameraID: cameraID, Status: StatusPending}
		d.entries[cameraID] = e
	}
	if name != "" {
		e.Name = name
	}
	if owner := strings.TrimSpace(ownerID); owner != "" {
		e.OwnerID = owner
	}
	return *e
}

// AttachTransport makes t the live transport of cameraID and marks it online.
// A different transport already attached is returned so the caller can
// close it; the newest connection always wins.
func (d *Directory) AttachTransport(cameraID string, t Transport) (Transport, error) {
	if t == nil {
		return nil, errors.New("nil transport")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[cameraID]
	if !ok {
		return nil, ErrUnknownCamera
	}

	var evicted Transport
	if e.Transport != nil && e.Transport != t {
		evicted = e.Transport
	}
	e.Transport = t
	e.Status = StatusOnline
	e.ConnectedAt = time.Now()
	return evicted, nil
}

// DetachTransport handles the close of t. Owned cameras go offline and keep
// their entry; unclaimed cameras are removed. A close from a transport that
// was already replaced is ignored. It returns the entry as it was before the
// change and whether anything changed.
func (d *Directory) DetachTransport(cameraID string, t Transport) (Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[cameraID]
	if !ok {
		return Entry{}, false
	}

	switch {
	case e.Transport != nil && e.Transport == t:
	case e.Transport == nil && !e.Claimed():
		// Pending camera whose only connection went away.
	default:
		return Entry{}, false
	}

	before := *e
	if e.Claimed() {
		e.Transport = nil
		e.Status = StatusOffline
	} else {
		delete(d.entries, cameraID)
	}
	return before, true
}

// Lookup returns a copy of the entry for cameraID.
func (d *Directory) Lookup(cameraID string) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.entries[cameraID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// SetOwner assigns an owner to an existing entry.
func (d *Directory) SetOwner(cameraID, ownerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[cameraID]
	if !ok {
		return ErrUnknownCamera
	}
	e.OwnerID = strings.TrimSpace(ownerID)
	return nil
}

// SetName renames an existing entry. Missing entries are ignored since the
// camera may simply not have connected since the last restart.
func (d *Directory) SetName(cameraID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[cameraID]; ok {
		e.Name = name
	}
}

// Touch records that a frame arrived on t.
func (d *Directory) Touch(cameraID string, t Transport, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[cameraID]; ok && e.Transport == t {
		e.LastFrameAt = at
	}
}

// Remove deletes the entry and returns what was removed.
func (d *Directory) Remove(cameraID string) (Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[cameraID]
	if !ok {
		return Entry{}, false
	}
	delete(d.entries, cameraID)
	return *e, true
}

// ListByOwner returns the entries owned by ownerID, sorted by identity.
func (d *Directory) ListByOwner(ownerID string) []Entry {
	owner := strings.TrimSpace(ownerID)
	if owner == "" {
		return nil
	}
	return d.filter(func(e *Entry) bool { return e.OwnerID == owner })
}

// ListUnclaimed returns entries without an owner, sorted by identity.
func (d *Directory) ListUnclaimed() []Entry {
	return d.filter(func(e *Entry) bool { return !e.Claimed() })
}

// List returns every entry, sorted by identity.
func (d *Directory) List() []Entry {
	return d.filter(func(*Entry) bool { return true })
}

// Count returns the number of entries
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.entries)
}

// CountByStatus returns the number of entries per status.
func (d *Directory) CountByStatus() map[Status]int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	counts := map[Status]int{StatusPending: 0, StatusOnline: 0, StatusOffline: 0}
	for _, e := range d.entries {
		counts[e.Status]++
	}
	return counts
}

func (d *Directory) filter(keep func(*Entry) bool) []Entry {
	d.mu.RLock()
	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		if keep(e) {
			out = append(out, *e)
		}
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}
