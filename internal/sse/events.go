// Package sse implements Server-Sent Events for pushing library changes to
// connected UI clients. The hierarchy engine only depends on the narrow
// Emitter interface; delivery is fire-and-forget and never load-bearing for
// graph correctness.
package sse

import (
	"time"

	"github.com/curioapp/curio-server/internal/domain"
)

// EventType represents the type of SSE event.
type EventType string

const (
	// EventTagCreated represents a tag creation event.
	EventTagCreated EventType = "tag.created"
	// EventTagUpdated represents a tag update event. The payload carries the
	// full set of tag ids touched by one logical edit, batched so a large
	// cascade produces one event rather than a storm.
	EventTagUpdated EventType = "tag.updated"
	// EventTagDeleted represents a tag deletion event.
	EventTagDeleted EventType = "tag.deleted"
	// EventTagMerged represents one tag being folded into another. Clients
	// may hold direct references to the merged id, which a generic updated
	// event would not cover, so the old→new mapping is explicit.
	EventTagMerged EventType = "tag.merged"

	// EventFileUpdated represents denormalized tag data changing on files.
	EventFileUpdated EventType = "file.updated"
	// EventCollectionUpdated represents denormalized tag data changing on
	// collections.
	EventCollectionUpdated EventType = "collection.updated"

	// EventLibraryRefresh tells clients to reload everything. Sent after a
	// merge (success or failure) because partial merge state is worse than a
	// redundant reload.
	EventLibraryRefresh EventType = "library.refresh"

	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"
)

// Event represents an SSE event to be sent to clients.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`
}

// Emitter is the narrow interface the engine publishes through.
type Emitter interface {
	Emit(event Event)
}

// NoopEmitter is a no-op Emitter for tests.
type NoopEmitter struct{}

// Emit implements Emitter as a no-op.
func (NoopEmitter) Emit(Event) {}

// NewNoopEmitter creates a no-op emitter for tests.
func NewNoopEmitter() Emitter {
	return NoopEmitter{}
}

// TagEventData is the payload for tag.created and tag.deleted events.
type TagEventData struct {
	Tag *domain.Tag `json:"tag"`
}

// TagsUpdatedEventData is the payload for batched tag.updated events.
type TagsUpdatedEventData struct {
	TagIDs []string `json:"tag_ids"`
}

// TagMergedEventData is the payload for tag.merged events.
type TagMergedEventData struct {
	MergedTagID string `json:"merged_tag_id"`
	KeptTagID   string `json:"kept_tag_id"`
}

// RecordsUpdatedEventData is the payload for file/collection update events.
type RecordsUpdatedEventData struct {
	IDs []string `json:"ids"`
}

// HeartbeatEventData is the payload for heartbeat events.
type HeartbeatEventData struct {
	ServerTime time.Time `json:"server_time"`
}

// NewTagCreatedEvent creates a tag.created event.
func NewTagCreatedEvent(tag *domain.Tag) Event {
	return Event{Type: EventTagCreated, Data: TagEventData{Tag: tag}, Timestamp: time.Now()}
}

// NewTagsUpdatedEvent creates a batched tag.updated event.
func NewTagsUpdatedEvent(tagIDs []string) Event {
	return Event{Type: EventTagUpdated, Data: TagsUpdatedEventData{TagIDs: tagIDs}, Timestamp: time.Now()}
}

// NewTagDeletedEvent creates a tag.deleted event.
func NewTagDeletedEvent(tag *domain.Tag) Event {
	return Event{Type: EventTagDeleted, Data: TagEventData{Tag: tag}, Timestamp: time.Now()}
}

// NewTagMergedEvent creates a tag.merged event.
func NewTagMergedEvent(mergedID, keptID string) Event {
	return Event{Type: EventTagMerged, Data: TagMergedEventData{MergedTagID: mergedID, KeptTagID: keptID}, Timestamp: time.Now()}
}

// NewFilesUpdatedEvent creates a file.updated event for the given file ids.
func NewFilesUpdatedEvent(fileIDs []string) Event {
	return Event{Type: EventFileUpdated, Data: RecordsUpdatedEventData{IDs: fileIDs}, Timestamp: time.Now()}
}

// NewCollectionsUpdatedEvent creates a collection.updated event.
func NewCollectionsUpdatedEvent(collIDs []string) Event {
	return Event{Type: EventCollectionUpdated, Data: RecordsUpdatedEventData{IDs: collIDs}, Timestamp: time.Now()}
}

// NewLibraryRefreshEvent creates a library.refresh event.
func NewLibraryRefreshEvent() Event {
	return Event{Type: EventLibraryRefresh, Timestamp: time.Now()}
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent() Event {
	return Event{Type: EventHeartbeat, Data: HeartbeatEventData{ServerTime: time.Now()}, Timestamp: time.Now()}
}
