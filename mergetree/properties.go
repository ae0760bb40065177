package mergetree

import (
	"maps"

	"github.com/google/go-cmp/cmp"
)

// PropertySet is a bag of JSON-like properties attached to segments and references.
//
// In an annotation, a nil value removes the key.
type PropertySet map[string]any

// Clone returns a shallow copy of the set, or nil for an empty set.
func (p PropertySet) Clone() PropertySet {
	if len(p) == 0 {
		return nil
	}
	return maps.Clone(p)
}

// MatchProperties returns whether both sets have the same keys with deeply equal values.
// Nil and empty sets match.
func MatchProperties(a, b PropertySet) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || !cmp.Equal(va, vb) {
			return false
		}
	}
	return true
}

// Tracks keys with local annotations that weren't acknowledged yet.
//
// While a key is pending, remote annotations of that key are ignored, since the
// local value will overwrite them once sequenced.
type propertiesManager struct {
	pendingKeys map[string]int
}

func (pm *propertiesManager) hasPending(key string) bool {
	return pm != nil && pm.pendingKeys[key] > 0
}

func (pm *propertiesManager) ack(props PropertySet) {
	if pm == nil {
		return
	}
	for k := range props {
		if pm.pendingKeys[k] > 0 {
			pm.pendingKeys[k]--
		}
		if pm.pendingKeys[k] == 0 {
			delete(pm.pendingKeys, k)
		}
	}
}

func (pm *propertiesManager) clone() *propertiesManager {
	if pm == nil {
		return nil
	}
	return &propertiesManager{pendingKeys: maps.Clone(pm.pendingKeys)}
}

func (pm *propertiesManager) empty() bool {
	return pm == nil || len(pm.pendingKeys) == 0
}

// Applies props onto the segment, returning the previous value of each changed key.
// Keys that didn't exist before are returned with a nil value.
func (s *Segment) addProperties(props PropertySet, local bool) PropertySet {
	deltas := PropertySet{}
	for k, v := range props {
		if !local && s.propertyManager.hasPending(k) {
			continue
		}
		if local {
			if s.propertyManager == nil {
				s.propertyManager = &propertiesManager{pendingKeys: make(map[string]int)}
			}
			s.propertyManager.pendingKeys[k]++
		}
		deltas[k] = s.props[k]
		if v == nil {
			delete(s.props, k)
			continue
		}
		if s.props == nil {
			s.props = make(PropertySet)
		}
		s.props[k] = v
	}
	return deltas
}
