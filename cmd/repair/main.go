// Package main provides an offline consistency pass over the tag graph.
// It heals asymmetric parent/child edges, prunes dangling references and
// recomputes closures, ancestor sets, counts and thumbs for every tag.
//
// Usage:
//
//	DB_PATH=~/Curio/data/db go run ./cmd/repair
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/curioapp/curio-server/internal/service"
	"github.com/curioapp/curio-server/internal/store"
)

func main() {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = os.ExpandEnv("$HOME/Curio/data/db")
	}

	fmt.Printf("Opening database at: %s\n", dbPath)

	s, err := store.New(dbPath, nil)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	tags := service.NewTagService(s, nil, nil)

	summary, err := tags.RepairLibrary(context.Background())
	if err != nil {
		log.Fatalf("Repair failed: %v", err)
	}

	fmt.Printf("Scanned %d tags\n", summary.TagsScanned)
	if len(summary.Repairs) == 0 {
		fmt.Println("No asymmetric or dangling relations found")
	}
	for _, r := range summary.Repairs {
		fmt.Printf("  %s:\n", r.TagID)
		if len(r.HealedParentIDs) > 0 {
			fmt.Printf("    healed parents:  %s\n", strings.Join(r.HealedParentIDs, ", "))
		}
		if len(r.HealedChildIDs) > 0 {
			fmt.Printf("    healed children: %s\n", strings.Join(r.HealedChildIDs, ", "))
		}
		if len(r.PrunedParentIDs) > 0 {
			fmt.Printf("    pruned parents:  %s\n", strings.Join(r.PrunedParentIDs, ", "))
		}
		if len(r.PrunedChildIDs) > 0 {
			fmt.Printf("    pruned children: %s\n", strings.Join(r.PrunedChildIDs, ", "))
		}
	}
	fmt.Printf("Recalculated %d counts\n", summary.CountUpdates)

	report, err := tags.VerifyLibrary(context.Background())
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("Verified %d tags, %d files, %d collections\n",
		report.TagsScanned, report.FilesScanned, report.CollsScanned)
	for _, issue := range report.Issues {
		ref := issue.TagID
		if ref == "" {
			ref = issue.Record
		}
		fmt.Printf("  %s %s: %s\n", issue.Kind, ref, issue.Detail)
	}
	if !report.Clean() {
		log.Fatalf("Graph still inconsistent after repair: %d issues", len(report.Issues))
	}

	fmt.Println("Done")
}
