package domain

import (
	"sort"
	"time"
)

// DeviceState is the set of kinds a device has verified, and when it last verified one.
type DeviceState struct {
	Verified [KindCount]bool
	LastSeen time.Time
}

// Record is the current challenge state of one account, derived by folding its event log.
// Codes holds the hash of the latest unredeemed code per kind ("" when none is live).
type Record struct {
	AccountID string
	Codes     [KindCount]string
	Devices   map[string]*DeviceState
	UpdatedAt time.Time
}

// NewRecord returns an empty record for accountID.
func NewRecord(accountID string) *Record {
	return &Record{AccountID: accountID, Devices: make(map[string]*DeviceState)}
}

// Fold builds the record for accountID from events in log order.
func Fold(accountID string, events []*Event) *Record {
	r := NewRecord(accountID)
	for _, e := range events {
		r.Apply(e)
	}
	return r
}

// Apply folds a single event into the record.
func (r *Record) Apply(e *Event) {
	switch e.Type {
	case EventIssued:
		if e.Kind.Valid() {
			r.Codes[e.Kind] = e.CodeHash
		}
	case EventVerified:
		if !e.Kind.Valid() || e.DeviceID == "" {
			return
		}
		d := r.Devices[e.DeviceID]
		if d == nil {
			d = &DeviceState{}
			r.Devices[e.DeviceID] = d
		}
		d.Verified[e.Kind] = true
		d.LastSeen = e.CreatedAt
	case EventCleared:
		r.Codes = [KindCount]string{}
		delete(r.Devices, e.DeviceID)
	case EventEvicted:
		delete(r.Devices, e.DeviceID)
	case EventReset:
		r.Codes = [KindCount]string{}
		r.Devices = make(map[string]*DeviceState)
	}
	if e.CreatedAt.After(r.UpdatedAt) {
		r.UpdatedAt = e.CreatedAt
	}
}

// Satisfied reports whether device has verified kind.
func (r *Record) Satisfied(kind Kind, device string) bool {
	d := r.Devices[device]
	return d != nil && kind.Valid() && d.Verified[kind]
}

// NextRequired returns the first kind, in tax → activation → imf order, that is enabled and not yet
// verified for device. ok is false when every enabled kind is satisfied. Tiered mode enables all three;
// with tiered disabled nothing is required from this record.
func (r *Record) NextRequired(tiered bool, device string) (kind Kind, ok bool) {
	if !tiered {
		return 0, false
	}
	for _, k := range Kinds() {
		if !r.Satisfied(k, device) {
			return k, true
		}
	}
	return 0, false
}

// Prune forgets devices idle for longer than ttl, then keeps only the maxDevices most recently seen.
// It returns the evicted device ids, which the caller must persist as EventEvicted so a later
// verification by the same device starts from an empty set.
func (r *Record) Prune(now time.Time, maxDevices int, ttl time.Duration) []string {
	var evicted []string
	if ttl > 0 {
		cutoff := now.Add(-ttl)
		for id, d := range r.Devices {
			if d.LastSeen.Before(cutoff) {
				delete(r.Devices, id)
				evicted = append(evicted, id)
			}
		}
	}
	if maxDevices > 0 && len(r.Devices) > maxDevices {
		ids := make([]string, 0, len(r.Devices))
		for id := range r.Devices {
			ids = append(ids, id)
		}
		// newest first; ties broken by id so eviction is deterministic
		sort.Slice(ids, func(i, j int) bool {
			a, b := r.Devices[ids[i]], r.Devices[ids[j]]
			if !a.LastSeen.Equal(b.LastSeen) {
				return a.LastSeen.After(b.LastSeen)
			}
			return ids[i] < ids[j]
		})
		for _, id := range ids[maxDevices:] {
			delete(r.Devices, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	return evicted
}
