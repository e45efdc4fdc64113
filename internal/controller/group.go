// Package controller implements the domain-side region controller: the
// per-region state machine that drives the START/ENTER/SUBMIT/RETIRE/
// LEAVE message protocol, routes committed operations to the
// controller that owns their target object, and applies them.
package controller

import (
	"sync"

	"github.com/behrlich/mantle/internal/census"
	"github.com/behrlich/mantle/internal/object"
)

// Group is the live set of controllers bound to a domain. It is shared
// by every controller in it, the way the reference implementation
// passes each RegionController a reference to the whole group so it can
// route an operation to whichever peer owns its target object.
type Group struct {
	mu          sync.Mutex
	controllers []*RegionController
}

// NewGroup builds an empty controller group.
func NewGroup() *Group {
	return &Group{}
}

// Add appends a newly constructed controller to the group.
func (g *Group) Add(c *RegionController) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.controllers = append(g.controllers, c)
}

// Len reports how many controllers are in the group.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.controllers)
}

// At returns the controller owning the given region id.
func (g *Group) At(regionID object.RegionID) *RegionController {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.controllers[regionID]
}

// Each visits every controller in the group, in region-id order.
func (g *Group) Each(visit func(*RegionController)) {
	g.mu.Lock()
	snapshot := append([]*RegionController(nil), g.controllers...)
	g.mu.Unlock()

	for _, c := range snapshot {
		visit(c)
	}
}

// Census builds a census over the group's current snapshot.
func (g *Group) Census() *census.Census {
	g.mu.Lock()
	snapshot := append([]*RegionController(nil), g.controllers...)
	g.mu.Unlock()

	c := census.New()
	for _, ctrl := range snapshot {
		c.Add(ctrl)
	}
	return c
}

// Synchronize repeatedly lets every controller advance past whatever
// barrier phases the group's current census satisfies, until a full
// pass leaves the census unchanged.
func Synchronize(g *Group) *census.Census {
	oldCensus := g.Census()
	for {
		g.Each(func(c *RegionController) {
			c.Synchronize(oldCensus)
		})

		newCensus := g.Census()
		if oldCensus.Equal(newCensus) {
			return newCensus
		}
		oldCensus = newCensus
	}
}
