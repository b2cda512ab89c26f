package occurrence

import (
	"time"

	"artcrm/internal/model"
)

// Index answers "is there a persisted exception for this occurrence?".
type Index interface {
	Lookup(eventID int64, at time.Time) (model.EventOverride, bool)
}

type overrideKey struct {
	eventID int64
	unix    int64
}

// OverrideIndex is an immutable snapshot of overrides keyed by event id and
// occurrence instant. Two datetimes naming the same instant in different
// zones hit the same entry.
type OverrideIndex struct {
	byKey map[overrideKey]model.EventOverride
}

// NewOverrideIndex builds a snapshot. For duplicate keys the most recently
// modified row wins.
func NewOverrideIndex(overrides []model.EventOverride) *OverrideIndex {
	idx := &OverrideIndex{byKey: make(map[overrideKey]model.EventOverride, len(overrides))}
	for _, o := range overrides {
		k := overrideKey{eventID: o.EventID, unix: o.At.Unix()}
		if prev, ok := idx.byKey[k]; ok && prev.ModifiedAt.After(o.ModifiedAt) {
			continue
		}
		idx.byKey[k] = o
	}
	return idx
}

func (idx *OverrideIndex) Lookup(eventID int64, at time.Time) (model.EventOverride, bool) {
	if idx == nil {
		return model.EventOverride{}, false
	}
	o, ok := idx.byKey[overrideKey{eventID: eventID, unix: at.Unix()}]
	return o, ok
}

// Len returns the number of distinct keys.
func (idx *OverrideIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.byKey)
}
