package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// breakSymmetry drops childID from the parent's ChildIDs while leaving the
// child's ParentIDs intact, simulating a half-applied mutation.
func breakSymmetry(t *testing.T, tags *TagService, parentID, childID string) {
	t.Helper()
	ctx := context.Background()

	parent, err := tags.store.GetTag(ctx, parentID)
	require.NoError(t, err)
	kept := parent.ChildIDs[:0]
	for _, cid := range parent.ChildIDs {
		if cid != childID {
			kept = append(kept, cid)
		}
	}
	parent.ChildIDs = kept
	require.NoError(t, tags.store.UpdateTag(ctx, parent))
}

func TestRefreshTagRelations_HealsAsymmetricEdge(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	animal := mustCreateTag(t, tags, CreateTagRequest{Label: "Animal"}).Tag
	dog := mustCreateTag(t, tags, CreateTagRequest{Label: "Dog", ParentIDs: []string{animal.ID}}).Tag

	breakSymmetry(t, tags, animal.ID, dog.ID)

	summary, err := tags.RefreshTagRelations(ctx, dog.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{animal.ID}, summary.HealedParentIDs)

	animal, err = tags.GetTag(ctx, animal.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{dog.ID}, animal.ChildIDs)
	assert.Equal(t, []string{dog.ID}, animal.DescendantIDs)

	dog, err = tags.GetTag(ctx, dog.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{animal.ID}, dog.ParentIDs)
	assert.Equal(t, []string{animal.ID}, dog.AncestorIDs)
}

func TestRefreshTagRelations_HealsFromParentSide(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	animal := mustCreateTag(t, tags, CreateTagRequest{Label: "Animal"}).Tag
	dog := mustCreateTag(t, tags, CreateTagRequest{Label: "Dog", ParentIDs: []string{animal.ID}}).Tag

	breakSymmetry(t, tags, animal.ID, dog.ID)

	// Repairing the parent finds the one-sided edge through the scan of the
	// rest of the graph.
	summary, err := tags.RefreshTagRelations(ctx, animal.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{dog.ID}, summary.HealedChildIDs)

	animal, err = tags.GetTag(ctx, animal.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{dog.ID}, animal.ChildIDs)
}

func TestRefreshTagRelations_PrunesDanglingReference(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	dog := mustCreateTag(t, tags, CreateTagRequest{Label: "Dog"}).Tag

	stored, err := tags.store.GetTag(ctx, dog.ID)
	require.NoError(t, err)
	stored.ParentIDs = append(stored.ParentIDs, "tag-gone")
	require.NoError(t, tags.store.UpdateTag(ctx, stored))

	summary, err := tags.RefreshTagRelations(ctx, dog.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"tag-gone"}, summary.PrunedParentIDs)

	dog, err = tags.GetTag(ctx, dog.ID)
	require.NoError(t, err)
	assert.Empty(t, dog.ParentIDs)
	assert.Empty(t, dog.AncestorIDs)
}

func TestRefreshTagRelations_CleanGraphIsNoop(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	animal := mustCreateTag(t, tags, CreateTagRequest{Label: "Animal"}).Tag
	mustCreateTag(t, tags, CreateTagRequest{Label: "Dog", ParentIDs: []string{animal.ID}})

	summary, err := tags.RefreshTagRelations(ctx, animal.ID)
	require.NoError(t, err)
	assert.True(t, summary.IsZero())
}

func TestRefreshTagRelations_PrunesCycleFormingEdge(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	animal := mustCreateTag(t, tags, CreateTagRequest{Label: "Animal"}).Tag
	dog := mustCreateTag(t, tags, CreateTagRequest{Label: "Dog", ParentIDs: []string{animal.ID}}).Tag

	// One-sided reference pointing the wrong way up the hierarchy: completing
	// it would make Animal and Dog mutual parent and child.
	stored, err := tags.store.GetTag(ctx, animal.ID)
	require.NoError(t, err)
	stored.ParentIDs = append(stored.ParentIDs, dog.ID)
	require.NoError(t, tags.store.UpdateTag(ctx, stored))

	summary, err := tags.RefreshTagRelations(ctx, animal.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{dog.ID}, summary.PrunedParentIDs)
	assert.Empty(t, summary.HealedParentIDs)

	animal, err = tags.GetTag(ctx, animal.ID)
	require.NoError(t, err)
	assert.Empty(t, animal.ParentIDs)
	assert.Equal(t, []string{dog.ID}, animal.ChildIDs)
	assert.Empty(t, animal.AncestorIDs)

	dog, err = tags.GetTag(ctx, dog.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{animal.ID}, dog.ParentIDs)
	assert.Empty(t, dog.ChildIDs)
}

func TestRepairLibrary_PrunesCycleFormingEdges(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	alpha := mustCreateTag(t, tags, CreateTagRequest{Label: "Alpha"}).Tag
	beta := mustCreateTag(t, tags, CreateTagRequest{Label: "Beta"}).Tag

	// Two independent one-sided references that would heal into a two-cycle:
	// each tag claims the other as a parent, neither lists the child side.
	for _, pair := range [][2]string{{alpha.ID, beta.ID}, {beta.ID, alpha.ID}} {
		stored, err := tags.store.GetTag(ctx, pair[0])
		require.NoError(t, err)
		stored.ParentIDs = append(stored.ParentIDs, pair[1])
		require.NoError(t, tags.store.UpdateTag(ctx, stored))
	}

	_, err := tags.RepairLibrary(ctx)
	require.NoError(t, err)

	alpha, err = tags.GetTag(ctx, alpha.ID)
	require.NoError(t, err)
	beta, err = tags.GetTag(ctx, beta.ID)
	require.NoError(t, err)
	assert.False(t, alpha.HasParent(beta.ID) && alpha.HasChild(beta.ID))
	assert.False(t, beta.HasParent(alpha.ID) && beta.HasChild(alpha.ID))

	report, err := tags.VerifyLibrary(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestRepairLibrary(t *testing.T) {
	tags, files, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	animal := mustCreateTag(t, tags, CreateTagRequest{Label: "Animal"}).Tag
	dog := mustCreateTag(t, tags, CreateTagRequest{Label: "Dog", ParentIDs: []string{animal.ID}}).Tag
	cat := mustCreateTag(t, tags, CreateTagRequest{Label: "Cat", ParentIDs: []string{animal.ID}}).Tag

	_, err := files.CreateFile(ctx, CreateFileRequest{Path: "/media/d.jpg", TagIDs: []string{dog.ID}})
	require.NoError(t, err)

	breakSymmetry(t, tags, animal.ID, dog.ID)

	summary, err := tags.RepairLibrary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TagsScanned)
	require.Len(t, summary.Repairs, 1)
	assert.Equal(t, dog.ID, summary.Repairs[0].TagID)
	assert.Equal(t, []string{animal.ID}, summary.Repairs[0].HealedParentIDs)

	// The whole graph settles: symmetry, closures and counts all hold.
	animal, err = tags.GetTag(ctx, animal.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{dog.ID, cat.ID}, animal.ChildIDs)
	assert.ElementsMatch(t, []string{dog.ID, cat.ID}, animal.DescendantIDs)
	assert.Equal(t, 1, animal.Count)

	// A second pass finds nothing to do.
	summary, err = tags.RepairLibrary(ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.Repairs)
	assert.Zero(t, summary.CountUpdates)
}

func TestVerifyLibrary_DetectsCycle(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	alpha := mustCreateTag(t, tags, CreateTagRequest{Label: "Alpha"}).Tag
	beta := mustCreateTag(t, tags, CreateTagRequest{Label: "Beta"}).Tag

	// Hand-build a symmetric two-cycle whose stored closures match a fresh
	// traversal, so only the acyclicity check can catch it.
	for _, pair := range [][2]string{{alpha.ID, beta.ID}, {beta.ID, alpha.ID}} {
		stored, err := tags.store.GetTag(ctx, pair[0])
		require.NoError(t, err)
		stored.ParentIDs = []string{pair[1]}
		stored.ChildIDs = []string{pair[1]}
		stored.AncestorIDs = []string{pair[1]}
		stored.DescendantIDs = []string{pair[1]}
		require.NoError(t, tags.store.UpdateTag(ctx, stored))
	}

	report, err := tags.VerifyLibrary(ctx)
	require.NoError(t, err)
	assert.False(t, report.Clean())

	var cycleIssues []VerificationIssue
	for _, issue := range report.Issues {
		if issue.Kind == "cycle" {
			cycleIssues = append(cycleIssues, issue)
		}
	}
	require.Len(t, cycleIssues, 2)
}

func TestVerifyLibrary(t *testing.T) {
	tags, files, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	animal := mustCreateTag(t, tags, CreateTagRequest{Label: "Animal"}).Tag
	dog := mustCreateTag(t, tags, CreateTagRequest{Label: "Dog", ParentIDs: []string{animal.ID}}).Tag

	_, err := files.CreateFile(ctx, CreateFileRequest{Path: "/media/d.jpg", TagIDs: []string{dog.ID}})
	require.NoError(t, err)

	report, err := tags.VerifyLibrary(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, 2, report.TagsScanned)
	assert.Equal(t, 1, report.FilesScanned)

	breakSymmetry(t, tags, animal.ID, dog.ID)

	report, err = tags.VerifyLibrary(ctx)
	require.NoError(t, err)
	assert.False(t, report.Clean())
	kinds := make([]string, 0, len(report.Issues))
	for _, issue := range report.Issues {
		kinds = append(kinds, issue.Kind)
	}
	assert.Contains(t, kinds, "asymmetric-edge")
	assert.Contains(t, kinds, "stale-closure")

	_, err = tags.RepairLibrary(ctx)
	require.NoError(t, err)

	report, err = tags.VerifyLibrary(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
}
