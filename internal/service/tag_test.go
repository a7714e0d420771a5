package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioapp/curio-server/internal/sse"
	"github.com/curioapp/curio-server/internal/store"
	"github.com/curioapp/curio-server/internal/tagraph"
)

func setupTestServices(t *testing.T) (*TagService, *FileService, *CollectionService, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "curio-test-*")
	require.NoError(t, err)

	st, err := store.New(filepath.Join(tmpDir, "test.db"), nil)
	require.NoError(t, err)

	tags := NewTagService(st, sse.NewNoopEmitter(), nil)
	files := NewFileService(st, tags, sse.NewNoopEmitter(), nil)
	colls := NewCollectionService(st, sse.NewNoopEmitter(), nil)

	cleanup := func() {
		//nolint:errcheck // Test cleanup.
		_ = st.Close()
		//nolint:errcheck // Test cleanup.
		_ = os.RemoveAll(tmpDir)
	}
	return tags, files, colls, cleanup
}

func mustCreateTag(t *testing.T, tags *TagService, req CreateTagRequest) *TagEditSummary {
	t.Helper()
	summary, err := tags.CreateTag(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, summary.Tag)
	return summary
}

func TestCreateTag_Plain(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()

	summary := mustCreateTag(t, tags, CreateTagRequest{Label: "Animal", Aliases: []string{"beast"}})

	assert.Equal(t, "Animal", summary.Tag.Label)
	assert.Empty(t, summary.Tag.ParentIDs)
	assert.Empty(t, summary.Tag.AncestorIDs)
	assert.Empty(t, summary.Rejected)
	assert.Zero(t, summary.Tag.Count)
}

func TestCreateTag_BlankLabel(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()

	_, err := tags.CreateTag(context.Background(), CreateTagRequest{Label: ""})
	assert.Error(t, err)

	// Whitespace-only trims to empty and must fail the same way.
	_, err = tags.CreateTag(context.Background(), CreateTagRequest{Label: "   "})
	assert.Error(t, err)
}

func TestEditTag_BlankLabelRejected(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	dog := mustCreateTag(t, tags, CreateTagRequest{Label: "Dog"}).Tag

	blank := "   "
	_, err := tags.EditTag(ctx, dog.ID, EditTagRequest{Label: &blank})
	assert.Error(t, err)

	dog, err = tags.GetTag(ctx, dog.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dog", dog.Label)
}

func TestCreateTag_DuplicateLabel(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()

	mustCreateTag(t, tags, CreateTagRequest{Label: "Animal"})
	_, err := tags.CreateTag(context.Background(), CreateTagRequest{Label: "animal"})
	assert.Error(t, err)
}

func TestCreateTag_SeededParent(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	animal := mustCreateTag(t, tags, CreateTagRequest{Label: "Animal"}).Tag
	dog := mustCreateTag(t, tags, CreateTagRequest{Label: "Dog", ParentIDs: []string{animal.ID}}).Tag

	assert.Equal(t, []string{animal.ID}, dog.ParentIDs)
	assert.Equal(t, []string{animal.ID}, dog.AncestorIDs)

	animal, err := tags.GetTag(ctx, animal.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{dog.ID}, animal.ChildIDs)
	assert.Equal(t, []string{dog.ID}, animal.DescendantIDs)
}

func TestCreateTag_UnknownParentRejected(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()

	summary := mustCreateTag(t, tags, CreateTagRequest{Label: "Dog", ParentIDs: []string{"tag-missing"}})

	assert.Empty(t, summary.Tag.ParentIDs)
	require.Len(t, summary.Rejected, 1)
	assert.Equal(t, tagraph.ReasonUnknownTag, summary.Rejected[0].Reason)
}

func TestFindOrCreateTagByLabel(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	first, created, err := tags.FindOrCreateTagByLabel(ctx, "Animal")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := tags.FindOrCreateTagByLabel(ctx, "animal")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

// Walks the full hierarchy scenario: two tags, a tagged file, a no-op
// re-add, a rejected cycle, and a merge.
func TestTagHierarchy_EndToEnd(t *testing.T) {
	tags, files, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	animal := mustCreateTag(t, tags, CreateTagRequest{Label: "Animal"}).Tag
	dog := mustCreateTag(t, tags, CreateTagRequest{Label: "Dog", ParentIDs: []string{animal.ID}}).Tag

	assert.Equal(t, []string{animal.ID}, dog.AncestorIDs)

	animal, err := tags.GetTag(ctx, animal.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{dog.ID}, animal.DescendantIDs)
	assert.Equal(t, []string{dog.ID}, animal.ChildIDs)

	f, err := files.CreateFile(ctx, CreateFileRequest{
		Path:      "/media/rex.jpg",
		ThumbPath: "/media/thumbs/rex.jpg",
		TagIDs:    []string{dog.ID},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{dog.ID, animal.ID}, f.TagIDsWithAncestors)

	dog, err = tags.GetTag(ctx, dog.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, dog.Count)
	animal, err = tags.GetTag(ctx, animal.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, animal.Count)

	// Re-adding an existing relation is a no-op, not an error.
	summary, err := tags.EditTag(ctx, animal.ID, EditTagRequest{ChildIDsToAdd: []string{dog.ID}})
	require.NoError(t, err)
	assert.True(t, summary.ChildDiff.IsZero())
	assert.Empty(t, summary.Rejected)

	// Making Animal a child of its own descendant is a cycle; the edge is
	// dropped and reported, not a hard failure.
	summary, err = tags.EditTag(ctx, animal.ID, EditTagRequest{ParentIDs: &[]string{dog.ID}})
	require.NoError(t, err)
	require.Len(t, summary.Rejected, 1)
	assert.Equal(t, tagraph.ReasonWouldCreateCycle, summary.Rejected[0].Reason)
	assert.Empty(t, summary.Tag.ParentIDs)

	require.NoError(t, tags.MergeTags(ctx, animal.ID, dog.ID, nil))

	_, err = tags.GetTag(ctx, dog.ID)
	assert.ErrorIs(t, err, store.ErrTagNotFound)

	f, err = files.GetFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{animal.ID}, f.TagIDs)
	assert.Equal(t, []string{animal.ID}, f.TagIDsWithAncestors)

	animal, err = tags.GetTag(ctx, animal.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, animal.Count)
	assert.Empty(t, animal.ChildIDs)
	assert.Contains(t, animal.Aliases, "Dog")
}

func TestEditTag_Attributes(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	created := mustCreateTag(t, tags, CreateTagRequest{Label: "Animal"}).Tag

	label := "Animals"
	aliases := []string{"fauna"}
	regex := "(animal|fauna)"
	summary, err := tags.EditTag(ctx, created.ID, EditTagRequest{
		Label:   &label,
		Aliases: &aliases,
		RegEx:   &regex,
	})
	require.NoError(t, err)
	assert.Equal(t, "Animals", summary.Tag.Label)
	assert.Equal(t, []string{"fauna"}, summary.Tag.Aliases)
	assert.Equal(t, "(animal|fauna)", summary.Tag.RegEx)

	// The old label is released, the new one is taken.
	_, err = tags.GetTagByLabel(ctx, "Animal")
	assert.ErrorIs(t, err, store.ErrTagNotFound)
	got, err := tags.GetTagByLabel(ctx, "animals")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestEditTag_GrandparentClosures(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	living := mustCreateTag(t, tags, CreateTagRequest{Label: "Living Thing"}).Tag
	animal := mustCreateTag(t, tags, CreateTagRequest{Label: "Animal", ParentIDs: []string{living.ID}}).Tag
	dog := mustCreateTag(t, tags, CreateTagRequest{Label: "Dog"}).Tag

	// Linking Dog under Animal must ripple to the grandparent closure.
	_, err := tags.EditTag(ctx, dog.ID, EditTagRequest{ParentIDsToAdd: []string{animal.ID}})
	require.NoError(t, err)

	dog, err = tags.GetTag(ctx, dog.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{animal.ID, living.ID}, dog.AncestorIDs)

	living, err = tags.GetTag(ctx, living.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{animal.ID, dog.ID}, living.DescendantIDs)

	// Unlinking ripples back out.
	_, err = tags.EditTag(ctx, dog.ID, EditTagRequest{ParentIDsToRemove: []string{animal.ID}})
	require.NoError(t, err)

	dog, err = tags.GetTag(ctx, dog.ID)
	require.NoError(t, err)
	assert.Empty(t, dog.AncestorIDs)

	living, err = tags.GetTag(ctx, living.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{animal.ID}, living.DescendantIDs)
}

func TestEditMultiTagRelations_PartialAcceptance(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	animal := mustCreateTag(t, tags, CreateTagRequest{Label: "Animal"}).Tag
	dog := mustCreateTag(t, tags, CreateTagRequest{Label: "Dog", ParentIDs: []string{animal.ID}}).Tag
	cat := mustCreateTag(t, tags, CreateTagRequest{Label: "Cat"}).Tag

	// Adding Animal as a parent is fine for Cat but a cycle for Animal
	// itself; the batch still applies the valid part.
	summary, err := tags.EditMultiTagRelations(ctx, MultiTagRelationEdit{
		TagIDs:         []string{cat.ID, animal.ID},
		ParentIDsToAdd: []string{animal.ID},
	})
	require.NoError(t, err)
	require.Len(t, summary.Rejected, 1)
	assert.Equal(t, animal.ID, summary.Rejected[0].TagID)

	cat, err = tags.GetTag(ctx, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{animal.ID}, cat.ParentIDs)

	animal, err = tags.GetTag(ctx, animal.ID)
	require.NoError(t, err)
	assert.Empty(t, animal.ParentIDs)
	assert.ElementsMatch(t, []string{dog.ID, cat.ID}, animal.ChildIDs)
}

func TestEditMultiTagRelations_BatchCannotFormCycle(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	a := mustCreateTag(t, tags, CreateTagRequest{Label: "A"}).Tag
	c := mustCreateTag(t, tags, CreateTagRequest{Label: "C"}).Tag

	// The first edit links A under C. The second proposes the reverse edge,
	// which must be rejected against the batch's own pending additions even
	// though the stored graph alone would have allowed it.
	summary, err := tags.EditMultiTagRelations(ctx, MultiTagRelationEdit{
		TagIDs:         []string{a.ID, c.ID},
		ParentIDsToAdd: []string{c.ID, a.ID},
	})
	require.NoError(t, err)

	var cycleRejects []tagraph.RejectedRelation
	for _, r := range summary.Rejected {
		if r.Reason == tagraph.ReasonWouldCreateCycle {
			cycleRejects = append(cycleRejects, r)
		}
	}
	require.Len(t, cycleRejects, 1)
	assert.Equal(t, c.ID, cycleRejects[0].TagID)
	assert.Equal(t, a.ID, cycleRejects[0].RelatedID)

	a, err = tags.GetTag(ctx, a.ID)
	require.NoError(t, err)
	c, err = tags.GetTag(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, a.ParentIDs)
	assert.Equal(t, []string{c.ID}, a.AncestorIDs)
	assert.Empty(t, c.ParentIDs)
}

func TestDeleteTag_CleansReferences(t *testing.T) {
	tags, files, colls, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	animal := mustCreateTag(t, tags, CreateTagRequest{Label: "Animal"}).Tag
	dog := mustCreateTag(t, tags, CreateTagRequest{Label: "Dog", ParentIDs: []string{animal.ID}}).Tag
	husky := mustCreateTag(t, tags, CreateTagRequest{Label: "Husky", ParentIDs: []string{dog.ID}}).Tag

	f, err := files.CreateFile(ctx, CreateFileRequest{Path: "/media/h.jpg", TagIDs: []string{husky.ID}})
	require.NoError(t, err)
	c, err := colls.CreateCollection(ctx, CreateCollectionRequest{Title: "Dogs", TagIDs: []string{dog.ID}})
	require.NoError(t, err)

	require.NoError(t, tags.DeleteTag(ctx, dog.ID))

	_, err = tags.GetTag(ctx, dog.ID)
	assert.ErrorIs(t, err, store.ErrTagNotFound)

	// Former neighbors no longer reference the deleted tag.
	animal, err = tags.GetTag(ctx, animal.ID)
	require.NoError(t, err)
	assert.Empty(t, animal.ChildIDs)
	assert.Empty(t, animal.DescendantIDs)

	husky, err = tags.GetTag(ctx, husky.ID)
	require.NoError(t, err)
	assert.Empty(t, husky.ParentIDs)
	assert.Empty(t, husky.AncestorIDs)

	// Dependent records were refreshed even though the file referenced the
	// deleted tag only through an ancestor chain.
	f, err = files.GetFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{husky.ID}, f.TagIDs)
	assert.Equal(t, []string{husky.ID}, f.TagIDsWithAncestors)

	c, err = colls.GetCollection(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, c.TagIDs)
	assert.Empty(t, c.TagIDsWithAncestors)

	animal, err = tags.GetTag(ctx, animal.ID)
	require.NoError(t, err)
	assert.Zero(t, animal.Count)
}

func TestMergeTags_PreservesReferences(t *testing.T) {
	tags, files, colls, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	animal := mustCreateTag(t, tags, CreateTagRequest{Label: "Animal"}).Tag
	dog := mustCreateTag(t, tags, CreateTagRequest{Label: "Dog", ParentIDs: []string{animal.ID}}).Tag
	husky := mustCreateTag(t, tags, CreateTagRequest{Label: "Husky", ParentIDs: []string{dog.ID}}).Tag
	canine := mustCreateTag(t, tags, CreateTagRequest{Label: "Canine"}).Tag

	f, err := files.CreateFile(ctx, CreateFileRequest{Path: "/media/d.jpg", TagIDs: []string{dog.ID}})
	require.NoError(t, err)
	c, err := colls.CreateCollection(ctx, CreateCollectionRequest{Title: "Dogs", TagIDs: []string{dog.ID}})
	require.NoError(t, err)

	require.NoError(t, tags.MergeTags(ctx, canine.ID, dog.ID, nil))

	_, err = tags.GetTag(ctx, dog.ID)
	assert.ErrorIs(t, err, store.ErrTagNotFound)

	// The survivor inherits the merged tag's place in the hierarchy.
	canine, err = tags.GetTag(ctx, canine.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{animal.ID}, canine.ParentIDs)
	assert.Equal(t, []string{husky.ID}, canine.ChildIDs)
	assert.Contains(t, canine.Aliases, "Dog")

	husky, err = tags.GetTag(ctx, husky.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{canine.ID}, husky.ParentIDs)
	assert.ElementsMatch(t, []string{canine.ID, animal.ID}, husky.AncestorIDs)

	f, err = files.GetFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{canine.ID}, f.TagIDs)
	assert.ElementsMatch(t, []string{canine.ID, animal.ID}, f.TagIDsWithAncestors)

	c, err = colls.GetCollection(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{canine.ID}, c.TagIDs)

	canine, err = tags.GetTag(ctx, canine.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, canine.Count)
	animal, err = tags.GetTag(ctx, animal.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, animal.Count)
}

func TestMergeTags_IntoParent(t *testing.T) {
	tags, files, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	animal := mustCreateTag(t, tags, CreateTagRequest{Label: "Animal"}).Tag
	dog := mustCreateTag(t, tags, CreateTagRequest{Label: "Dog", ParentIDs: []string{animal.ID}}).Tag

	f, err := files.CreateFile(ctx, CreateFileRequest{Path: "/media/d.jpg", TagIDs: []string{dog.ID}})
	require.NoError(t, err)

	require.NoError(t, tags.MergeTags(ctx, animal.ID, dog.ID, nil))

	// Merging a child into its parent must not leave a self-edge.
	animal, err = tags.GetTag(ctx, animal.ID)
	require.NoError(t, err)
	assert.Empty(t, animal.ParentIDs)
	assert.Empty(t, animal.ChildIDs)

	f, err = files.GetFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{animal.ID}, f.TagIDs)
}

func TestMergeTags_Overrides(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	keep := mustCreateTag(t, tags, CreateTagRequest{Label: "Dog"}).Tag
	merge := mustCreateTag(t, tags, CreateTagRequest{Label: "Doggo", RegEx: "dogg?o"}).Tag

	label := "Canine"
	require.NoError(t, tags.MergeTags(ctx, keep.ID, merge.ID, &MergeOverrides{Label: &label}))

	keep, err := tags.GetTag(ctx, keep.ID)
	require.NoError(t, err)
	assert.Equal(t, "Canine", keep.Label)
	assert.Contains(t, keep.Aliases, "Doggo")
	assert.Equal(t, "dogg?o", keep.RegEx)
}

func TestMergeTags_SelfMergeRejected(t *testing.T) {
	tags, _, _, cleanup := setupTestServices(t)
	defer cleanup()

	animal := mustCreateTag(t, tags, CreateTagRequest{Label: "Animal"}).Tag
	err := tags.MergeTags(context.Background(), animal.ID, animal.ID, nil)
	assert.Error(t, err)
}

func TestRecalculateTagCounts_Idempotent(t *testing.T) {
	tags, files, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	animal := mustCreateTag(t, tags, CreateTagRequest{Label: "Animal"}).Tag
	dog := mustCreateTag(t, tags, CreateTagRequest{Label: "Dog", ParentIDs: []string{animal.ID}}).Tag

	_, err := files.CreateFile(ctx, CreateFileRequest{Path: "/media/d.jpg", TagIDs: []string{dog.ID}})
	require.NoError(t, err)

	// Counts are already settled by the create cascade, so a recount finds
	// nothing to write, twice.
	updates, err := tags.RecalculateTagCounts(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, updates)

	updates, err = tags.RecalculateTagCounts(ctx, []string{animal.ID, dog.ID})
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestCascade_ThumbFromEarliestFile(t *testing.T) {
	tags, files, _, cleanup := setupTestServices(t)
	defer cleanup()
	ctx := context.Background()

	animal := mustCreateTag(t, tags, CreateTagRequest{Label: "Animal"}).Tag
	dog := mustCreateTag(t, tags, CreateTagRequest{Label: "Dog", ParentIDs: []string{animal.ID}}).Tag

	first, err := files.CreateFile(ctx, CreateFileRequest{
		Path:      "/media/first.jpg",
		ThumbPath: "/media/thumbs/first.jpg",
		TagIDs:    []string{dog.ID},
	})
	require.NoError(t, err)

	// Distinct creation timestamps so "earliest" is unambiguous.
	time.Sleep(2 * time.Millisecond)
	_, err = files.CreateFile(ctx, CreateFileRequest{
		Path:      "/media/second.jpg",
		ThumbPath: "/media/thumbs/second.jpg",
		TagIDs:    []string{dog.ID},
	})
	require.NoError(t, err)

	animal, err = tags.GetTag(ctx, animal.ID)
	require.NoError(t, err)
	require.NotNil(t, animal.Thumb)
	assert.Equal(t, first.ID, animal.Thumb.FileID)
	assert.Equal(t, "/media/thumbs/first.jpg", animal.Thumb.Path)
}
