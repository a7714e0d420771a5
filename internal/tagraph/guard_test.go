package tagraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckRelations_Valid(t *testing.T) {
	g := buildGraph(map[string][]string{
		"mammal": {"animal"},
		"dog":    {"mammal"},
	})

	check, err := CheckRelations(context.Background(), g, "mammal", []string{"dog"}, []string{"animal"})
	require.NoError(t, err)

	// Both edges already exist but re-adding them is structurally valid.
	assert.Equal(t, []string{"dog"}, check.ValidChildIDs)
	assert.Equal(t, []string{"animal"}, check.ValidParentIDs)
	assert.False(t, check.HasRejections())
}

func TestCheckRelations_ChildIsAncestor(t *testing.T) {
	g := buildGraph(map[string][]string{
		"mammal": {"animal"},
		"dog":    {"mammal"},
	})

	// animal is an ancestor of dog; making it dog's child would close a cycle.
	check, err := CheckRelations(context.Background(), g, "dog", []string{"animal"}, nil)
	require.NoError(t, err)

	assert.Empty(t, check.ValidChildIDs)
	require.Len(t, check.Rejected, 1)
	r := check.Rejected[0]
	assert.Equal(t, "dog", r.TagID)
	assert.Equal(t, "animal", r.RelatedID)
	assert.Equal(t, "animal", r.RelatedLabel)
	assert.Equal(t, "child", r.Relation)
	assert.Equal(t, ReasonWouldCreateCycle, r.Reason)
}

func TestCheckRelations_ParentIsDescendant(t *testing.T) {
	g := buildGraph(map[string][]string{
		"mammal": {"animal"},
		"dog":    {"mammal"},
	})

	check, err := CheckRelations(context.Background(), g, "animal", nil, []string{"dog"})
	require.NoError(t, err)

	assert.Empty(t, check.ValidParentIDs)
	require.Len(t, check.Rejected, 1)
	assert.Equal(t, "parent", check.Rejected[0].Relation)
	assert.Equal(t, ReasonWouldCreateCycle, check.Rejected[0].Reason)
}

func TestCheckRelations_PartialAcceptance(t *testing.T) {
	g := buildGraph(map[string][]string{
		"mammal": {"animal"},
		"dog":    {"mammal"},
		"plant":  nil,
	})

	// One bad child must not block the good one.
	check, err := CheckRelations(context.Background(), g, "dog", []string{"animal", "plant"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"plant"}, check.ValidChildIDs)
	require.Len(t, check.Rejected, 1)
	assert.Equal(t, "animal", check.Rejected[0].RelatedID)
}

func TestCheckRelations_SelfReference(t *testing.T) {
	g := buildGraph(map[string][]string{"dog": nil})

	check, err := CheckRelations(context.Background(), g, "dog", []string{"dog"}, []string{"dog"})
	require.NoError(t, err)

	assert.Empty(t, check.ValidChildIDs)
	assert.Empty(t, check.ValidParentIDs)
	require.Len(t, check.Rejected, 2)
	for _, r := range check.Rejected {
		assert.Equal(t, ReasonSelfReference, r.Reason)
	}
}

func TestCheckRelations_UnknownTag(t *testing.T) {
	g := buildGraph(map[string][]string{"dog": nil})

	check, err := CheckRelations(context.Background(), g, "dog", []string{"tag-nope"}, nil)
	require.NoError(t, err)

	assert.Empty(t, check.ValidChildIDs)
	require.Len(t, check.Rejected, 1)
	assert.Equal(t, ReasonUnknownTag, check.Rejected[0].Reason)
}

func TestCheckRelations_SameIDBothSides(t *testing.T) {
	g := buildGraph(map[string][]string{"dog": nil, "pet": nil})

	// pet proposed as both parent and child of dog at once.
	check, err := CheckRelations(context.Background(), g, "dog", []string{"pet"}, []string{"pet"})
	require.NoError(t, err)

	assert.Empty(t, check.ValidChildIDs)
	assert.Empty(t, check.ValidParentIDs)
	assert.Len(t, check.Rejected, 2)
}
