// Package main provides a tool to seed the database with a demo tag
// hierarchy and tagged files.
//
// Usage:
//
//	DB_PATH=~/Curio/data/db go run ./cmd/seed
//	DB_PATH=~/Curio/data/db go run ./cmd/seed --files 500
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/curioapp/curio-server/internal/domain"
	"github.com/curioapp/curio-server/internal/id"
	"github.com/curioapp/curio-server/internal/service"
	"github.com/curioapp/curio-server/internal/store"
	"github.com/curioapp/curio-server/internal/tagraph"
)

var fileCount = flag.Int("files", 100, "Number of demo files to create")

// hierarchy is the demo tag tree: label -> parent labels.
var hierarchy = map[string][]string{
	"Animal":    nil,
	"Dog":       {"Animal"},
	"Cat":       {"Animal"},
	"Husky":     {"Dog"},
	"Landscape": nil,
	"Mountain":  {"Landscape"},
	"Beach":     {"Landscape"},
	"People":    nil,
	"Portrait":  {"People"},
}

func main() {
	flag.Parse()

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

	ctx := context.Background()
	tags := service.NewTagService(s, nil, nil)

	// Parents before children so seeded relations always resolve.
	byLabel := make(map[string]*domain.Tag, len(hierarchy))
	for len(byLabel) < len(hierarchy) {
		progressed := false
		for label, parents := range hierarchy {
			if _, done := byLabel[label]; done {
				continue
			}
			parentIDs := make([]string, 0, len(parents))
			ready := true
			for _, p := range parents {
				parent, ok := byLabel[p]
				if !ok {
					ready = false
					break
				}
				parentIDs = append(parentIDs, parent.ID)
			}
			if !ready {
				continue
			}

			tag, created, err := tags.FindOrCreateTagByLabel(ctx, label)
			if err != nil {
				log.Fatalf("Failed to create tag %q: %v", label, err)
			}
			if created && len(parentIDs) > 0 {
				if _, err := tags.EditTag(ctx, tag.ID, service.EditTagRequest{ParentIDs: &parentIDs}); err != nil {
					log.Fatalf("Failed to link tag %q: %v", label, err)
				}
			}
			byLabel[label] = tag
			progressed = true
		}
		if !progressed {
			log.Fatal("Hierarchy contains an unresolvable parent reference")
		}
	}
	fmt.Printf("Seeded %d tags\n", len(byLabel))

	// Leaf-ish tags get the files.
	fileTags := []string{"Husky", "Dog", "Cat", "Mountain", "Beach", "Portrait"}

	writer := s.NewBatchWriter(500)
	defer writer.Cancel()

	for i := 0; i < *fileCount; i++ {
		tag := byLabel[fileTags[i%len(fileTags)]]
		withAncestors, err := tagraph.AncestorsOf(ctx, s, []string{tag.ID}, true)
		if err != nil {
			log.Fatalf("Failed to resolve ancestors for %q: %v", tag.Label, err)
		}

		f := &domain.File{
			ID:                  id.MustGenerate("file"),
			Path:                fmt.Sprintf("/media/demo/%s-%04d.jpg", tag.Label, i),
			ThumbPath:           fmt.Sprintf("/media/demo/thumbs/%s-%04d.jpg", tag.Label, i),
			TagIDs:              []string{tag.ID},
			TagIDsWithAncestors: withAncestors,
		}
		f.InitTimestamps()

		if err := writer.CreateFile(ctx, f); err != nil {
			log.Fatalf("Failed to write file %d: %v", i, err)
		}
	}
	if err := writer.Flush(); err != nil {
		log.Fatalf("Failed to flush batch: %v", err)
	}
	fmt.Printf("Seeded %d files\n", *fileCount)

	// Bulk-written files bypass the service cascade; settle every derived
	// field in one pass.
	summary, err := tags.RepairLibrary(ctx)
	if err != nil {
		log.Fatalf("Failed to settle derived fields: %v", err)
	}
	fmt.Printf("Settled %d tags (%d count updates)\n", summary.TagsScanned, summary.CountUpdates)

	fmt.Println("Done")
}
