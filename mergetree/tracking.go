package mergetree

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// Trackable is an object that tracking groups can follow: a segment or a local reference.
type Trackable interface {
	// IsLeaf returns true for segments and false for references.
	IsLeaf() bool
	// TrackingCollection returns the groups tracking this object.
	TrackingCollection() *TrackingGroupCollection
}

// TrackingGroup follows a set of segments and references across splits, merges and slides.
type TrackingGroup struct {
	objects SortedSegmentSet[Trackable]
}

// NewTrackingGroup returns an empty group.
func NewTrackingGroup() *TrackingGroup {
	return &TrackingGroup{}
}

// Tracked returns the tracked objects in document order.
func (g *TrackingGroup) Tracked() []Trackable {
	return append([]Trackable(nil), g.objects.Items()...)
}

// First returns the first tracked object in document order, or nil if the group is empty.
func (g *TrackingGroup) First() Trackable {
	items := g.objects.Items()
	if len(items) == 0 {
		return nil
	}
	return items[0]
}

// Size returns the number of tracked objects.
func (g *TrackingGroup) Size() int { return g.objects.Size() }

// Has returns whether t is tracked by this group.
func (g *TrackingGroup) Has(t Trackable) bool { return g.objects.Has(t) }

// Link starts tracking t.
func (g *TrackingGroup) Link(t Trackable) {
	if g.objects.Has(t) {
		return
	}
	g.objects.AddOrUpdate(t, nil)
	t.TrackingCollection().Link(g)
}

// Unlink stops tracking t, returning whether it was tracked.
func (g *TrackingGroup) Unlink(t Trackable) bool {
	if !g.objects.Remove(t) {
		return false
	}
	t.TrackingCollection().Unlink(g)
	return true
}

// TrackingGroupCollection is the set of groups tracking a single object.
type TrackingGroupCollection struct {
	trackable Trackable
	groups    mapset.Set[*TrackingGroup]
}

func newTrackingGroupCollection(t Trackable) *TrackingGroupCollection {
	return &TrackingGroupCollection{
		trackable: t,
		groups:    mapset.NewThreadUnsafeSet[*TrackingGroup](),
	}
}

// TrackingGroups returns the groups tracking this object, in no particular order.
func (c *TrackingGroupCollection) TrackingGroups() []*TrackingGroup {
	return c.groups.ToSlice()
}

// Empty returns whether no group tracks this object.
func (c *TrackingGroupCollection) Empty() bool { return c.groups.Cardinality() == 0 }

// Link adds the object to g.
func (c *TrackingGroupCollection) Link(g *TrackingGroup) {
	if c.groups.Contains(g) {
		return
	}
	c.groups.Add(g)
	g.Link(c.trackable)
}

// Unlink removes the object from g, returning whether it was tracked by it.
func (c *TrackingGroupCollection) Unlink(g *TrackingGroup) bool {
	if !c.groups.Contains(g) {
		return false
	}
	c.groups.Remove(g)
	g.Unlink(c.trackable)
	return true
}

// CopyTo makes every group of this object also track t.
func (c *TrackingGroupCollection) CopyTo(t Trackable) {
	c.groups.Each(func(g *TrackingGroup) bool {
		g.Link(t)
		return false
	})
}

// Matches returns whether both objects are tracked by exactly the same groups.
func (c *TrackingGroupCollection) Matches(other *TrackingGroupCollection) bool {
	if other == nil {
		return c.Empty()
	}
	return c.groups.Equal(other.groups)
}

// Moves every group of 'from' to track 'to' instead.
func moveTrackingGroups(from, to Trackable) {
	for _, g := range from.TrackingCollection().TrackingGroups() {
		g.Link(to)
		g.Unlink(from)
	}
}
