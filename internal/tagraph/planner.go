package tagraph

// RelationChange is the requested adjacency edit for one tag, expressed as
// the diff the caller wants applied.
type RelationChange struct {
	TagID           string
	AddParentIDs    []string
	RemoveParentIDs []string
	AddChildIDs     []string
	RemoveChildIDs  []string
}

// IsZero reports whether the change carries no edits.
func (c RelationChange) IsZero() bool {
	return len(c.AddParentIDs) == 0 && len(c.RemoveParentIDs) == 0 &&
		len(c.AddChildIDs) == 0 && len(c.RemoveChildIDs) == 0
}

// TagMutation is one tag's share of a mutation plan: the net adjacency sets
// to add and remove on its record.
type TagMutation struct {
	TagID           string
	AddParentIDs    []string
	RemoveParentIDs []string
	AddChildIDs     []string
	RemoveChildIDs  []string
}

// MutationPlan is the full set of store operations for one logical edit.
// The plan covers both sides of every edge: mutating one tag's ChildIDs
// always pairs with the reciprocal ParentIDs mutation on the endpoint, so
// applying the whole plan as one bulk unit preserves adjacency symmetry.
type MutationPlan struct {
	Mutations []TagMutation
}

// IsZero reports whether the plan contains no operations.
func (p MutationPlan) IsZero() bool {
	return len(p.Mutations) == 0
}

// TagIDs returns every tag id touched by the plan, in plan order.
// This is exactly the set whose closures go stale when the plan applies.
func (p MutationPlan) TagIDs() []string {
	ids := make([]string, 0, len(p.Mutations))
	for _, m := range p.Mutations {
		ids = append(ids, m.TagID)
	}
	return ids
}

// planBuilder accumulates per-tag mutations, keeping first-touch order so a
// tag's own mutation stays adjacent to its endpoints' reciprocal mutations.
type planBuilder struct {
	byID  map[string]*pendingMutation
	order []string
}

type pendingMutation struct {
	addParents     IDSet
	removeParents  IDSet
	addChildren    IDSet
	removeChildren IDSet
}

func newPlanBuilder() *planBuilder {
	return &planBuilder{byID: make(map[string]*pendingMutation)}
}

func (b *planBuilder) pending(tagID string) *pendingMutation {
	m, ok := b.byID[tagID]
	if !ok {
		m = &pendingMutation{
			addParents:     make(IDSet),
			removeParents:  make(IDSet),
			addChildren:    make(IDSet),
			removeChildren: make(IDSet),
		}
		b.byID[tagID] = m
		b.order = append(b.order, tagID)
	}
	return m
}

// Plan builds the symmetric mutation plan for one or more relation changes.
// Every requested edge lands on both endpoints; an add and a remove of the
// same edge within one plan cancel to a no-op on both sides.
func Plan(changes []RelationChange) MutationPlan {
	b := newPlanBuilder()

	for _, c := range changes {
		m := b.pending(c.TagID)

		for _, id := range c.AddParentIDs {
			m.addParents.Add(id)
			b.pending(id).addChildren.Add(c.TagID)
		}
		for _, id := range c.RemoveParentIDs {
			m.removeParents.Add(id)
			b.pending(id).removeChildren.Add(c.TagID)
		}
		for _, id := range c.AddChildIDs {
			m.addChildren.Add(id)
			b.pending(id).addParents.Add(c.TagID)
		}
		for _, id := range c.RemoveChildIDs {
			m.removeChildren.Add(id)
			b.pending(id).removeParents.Add(c.TagID)
		}
	}

	plan := MutationPlan{Mutations: make([]TagMutation, 0, len(b.order))}
	for _, tagID := range b.order {
		m := b.byID[tagID]
		cancel(m.addParents, m.removeParents)
		cancel(m.addChildren, m.removeChildren)

		mut := TagMutation{
			TagID:           tagID,
			AddParentIDs:    m.addParents.Sorted(),
			RemoveParentIDs: m.removeParents.Sorted(),
			AddChildIDs:     m.addChildren.Sorted(),
			RemoveChildIDs:  m.removeChildren.Sorted(),
		}
		if len(mut.AddParentIDs) == 0 && len(mut.RemoveParentIDs) == 0 &&
			len(mut.AddChildIDs) == 0 && len(mut.RemoveChildIDs) == 0 {
			continue
		}
		plan.Mutations = append(plan.Mutations, mut)
	}
	return plan
}

// cancel drops ids requested as both an add and a remove of the same edge.
func cancel(add, remove IDSet) {
	for id := range add {
		if remove.Has(id) {
			add.Delete(id)
			remove.Delete(id)
		}
	}
}
