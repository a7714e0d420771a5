package service

import (
	"context"
	"fmt"

	"github.com/curioapp/curio-server/internal/domain"
	"github.com/curioapp/curio-server/internal/tagraph"
)

// VerificationIssue describes one inconsistency found by VerifyLibrary.
type VerificationIssue struct {
	Kind   string `json:"kind"`
	TagID  string `json:"tag_id,omitempty"`
	Record string `json:"record,omitempty"`
	Detail string `json:"detail"`
}

// VerificationReport is the read-only counterpart of LibraryRepairSummary.
type VerificationReport struct {
	TagsScanned  int                 `json:"tags_scanned"`
	FilesScanned int                 `json:"files_scanned"`
	CollsScanned int                 `json:"collections_scanned"`
	Issues       []VerificationIssue `json:"issues,omitempty"`
}

func (r *VerificationReport) Clean() bool { return len(r.Issues) == 0 }

func (r *VerificationReport) add(kind, tagID, record, detail string) {
	r.Issues = append(r.Issues, VerificationIssue{Kind: kind, TagID: tagID, Record: record, Detail: detail})
}

// VerifyLibrary checks every structural and derived invariant without writing
// anything: adjacency symmetry, acyclicity, stored closures against a fresh
// traversal, dependent records' ancestor sets, and counts. A clean report
// means RepairLibrary would be a no-op.
func (s *TagService) VerifyLibrary(ctx context.Context) (*VerificationReport, error) {
	all, err := s.store.ListTags(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.Tag, len(all))
	for _, t := range all {
		byID[t.ID] = t
	}

	report := &VerificationReport{TagsScanned: len(all)}

	for _, t := range all {
		s.verifyAdjacency(report, t, byID)
		if err := s.verifyClosures(ctx, report, t); err != nil {
			return nil, err
		}
		if err := s.verifyCount(ctx, report, t); err != nil {
			return nil, err
		}
	}

	if err := s.verifyRecords(ctx, report); err != nil {
		return nil, err
	}

	return report, nil
}

func (s *TagService) verifyAdjacency(report *VerificationReport, t *domain.Tag, byID map[string]*domain.Tag) {
	for _, pid := range t.ParentIDs {
		p, ok := byID[pid]
		switch {
		case !ok:
			report.add("dangling-parent", t.ID, "", fmt.Sprintf("parent %s does not exist", pid))
		case !p.HasChild(t.ID):
			report.add("asymmetric-edge", t.ID, "", fmt.Sprintf("parent %s does not list it as a child", pid))
		}
	}
	for _, cid := range t.ChildIDs {
		c, ok := byID[cid]
		switch {
		case !ok:
			report.add("dangling-child", t.ID, "", fmt.Sprintf("child %s does not exist", cid))
		case !c.HasParent(t.ID):
			report.add("asymmetric-edge", t.ID, "", fmt.Sprintf("child %s does not list it as a parent", cid))
		}
	}
}

func (s *TagService) verifyClosures(ctx context.Context, report *VerificationReport, t *domain.Tag) error {
	ancestors, err := tagraph.AncestorsOf(ctx, s.store, []string{t.ID}, false)
	if err != nil {
		return err
	}
	descendants, err := tagraph.DescendantsOf(ctx, s.store, []string{t.ID}, false)
	if err != nil {
		return err
	}

	// Cycle detection needs its own traversal: the closure helpers drop the
	// seed from their result, so walk up from the parents and check whether
	// the tag reaches itself.
	reachable, err := tagraph.AncestorsOf(ctx, s.store, t.ParentIDs, true)
	if err != nil {
		return err
	}
	if tagraph.NewIDSet(reachable...).Has(t.ID) {
		report.add("cycle", t.ID, "", "tag is its own ancestor")
	}

	if !tagraph.SameIDs(ancestors, t.AncestorIDs) {
		report.add("stale-closure", t.ID, "", "stored ancestor set does not match traversal")
	}
	if !tagraph.SameIDs(descendants, t.DescendantIDs) {
		report.add("stale-closure", t.ID, "", "stored descendant set does not match traversal")
	}
	return nil
}

func (s *TagService) verifyCount(ctx context.Context, report *VerificationReport, t *domain.Tag) error {
	count, err := s.store.CountFilesByAncestorTag(ctx, t.ID)
	if err != nil {
		return err
	}
	if count != t.Count {
		report.add("stale-count", t.ID, "", fmt.Sprintf("stored count %d, index says %d", t.Count, count))
	}
	return nil
}

func (s *TagService) verifyRecords(ctx context.Context, report *VerificationReport) error {
	files, err := s.store.ListFiles(ctx)
	if err != nil {
		return err
	}
	report.FilesScanned = len(files)
	for _, f := range files {
		want, err := tagraph.AncestorsOf(ctx, s.store, f.TagIDs, true)
		if err != nil {
			return err
		}
		if !tagraph.SameIDs(want, f.TagIDsWithAncestors) {
			report.add("stale-record", "", f.ID, "file ancestor set does not match tag graph")
		}
	}

	colls, err := s.store.ListCollections(ctx)
	if err != nil {
		return err
	}
	report.CollsScanned = len(colls)
	for _, c := range colls {
		want, err := tagraph.AncestorsOf(ctx, s.store, c.TagIDs, true)
		if err != nil {
			return err
		}
		if !tagraph.SameIDs(want, c.TagIDsWithAncestors) {
			report.add("stale-record", "", c.ID, "collection ancestor set does not match tag graph")
		}
	}
	return nil
}
