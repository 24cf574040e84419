package spending

import (
	"fmt"

	"github.com/privatestorage/zkapauthorizer/pkg/pass"
)

// PassGroup is a live collection of passes handed out together by a
// Controller for a single RPC. Every pass in a group is, at construction
// time, in the controller's in-use set; Split, Expand, MarkSpent,
// MarkInvalid, and Reset atomically move those passes between the
// controller's sets.
type PassGroup struct {
	factory *messageBoundFactory
	passes  []pass.Pass
}

// Passes returns the passes currently held by this group, in the order
// they were minted or assembled by Split/Expand.
func (g *PassGroup) Passes() []pass.Pass {
	out := make([]pass.Pass, len(g.passes))
	copy(out, g.passes)
	return out
}

// Split partitions the group into two new groups sharing this group's
// factory: one containing the passes at selectIndices (order-preserved),
// the other containing all remaining passes. selectIndices need not be
// sorted. Neither resulting group has been recorded as a distinct entity
// with the controller -- the controller tracks individual passes, not
// groups -- so splitting is a pure, un-synchronized reshuffling of the
// same in-use passes.
func (g *PassGroup) Split(selectIndices []int) (selected *PassGroup, rest *PassGroup) {
	want := make(map[int]struct{}, len(selectIndices))
	for _, i := range selectIndices {
		want[i] = struct{}{}
	}

	var selectedPasses, restPasses []pass.Pass
	for i, p := range g.passes {
		if _, ok := want[i]; ok {
			selectedPasses = append(selectedPasses, p)
		} else {
			restPasses = append(restPasses, p)
		}
	}
	return &PassGroup{factory: g.factory, passes: selectedPasses},
		&PassGroup{factory: g.factory, passes: restPasses}
}

// Expand requests byAmount additional passes, bound to the same message
// as this group, and returns a new group containing this group's passes
// plus the new ones.
func (g *PassGroup) Expand(byAmount int) (*PassGroup, error) {
	more, err := g.factory.get(byAmount)
	if err != nil {
		return nil, fmt.Errorf("spending: expanding pass group: %w", err)
	}
	combined := make([]pass.Pass, 0, len(g.passes)+len(more.passes))
	combined = append(combined, g.passes...)
	combined = append(combined, more.passes...)
	return &PassGroup{factory: g.factory, passes: combined}, nil
}

// MarkSpent commits the group's passes as successfully spent. They
// become terminal: they will never appear in any future group.
func (g *PassGroup) MarkSpent() error {
	return g.factory.controller.markSpent(g.passes)
}

// MarkInvalid commits the group's passes as rejected for reason. Like
// MarkSpent, this is terminal.
func (g *PassGroup) MarkInvalid(reason string) error {
	return g.factory.controller.markInvalid(reason, g.passes)
}

// Reset returns the group's passes (by way of their underlying unblinded
// tokens) to the head of the controller's returned queue, for reuse by a
// future Get.
func (g *PassGroup) Reset() error {
	return g.factory.controller.reset(g.passes)
}
