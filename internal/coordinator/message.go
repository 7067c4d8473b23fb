package coordinator

import (
	"encoding/json"
	"fmt"
)

// Message types exchanged between the sync layer and its clients. The
// wire names are part of the protocol and never change casing.
const (
	// TypeSkipWaiting asks a newly installed sync worker to take over
	// immediately instead of waiting for the old one to wind down.
	TypeSkipWaiting = "SKIP_WAITING"
	// TypeCacheURLs asks the cache layer to warm the listed URLs.
	TypeCacheURLs = "CACHE_URLS"
	// TypeProcessQueue asks for an immediate drain pass.
	TypeProcessQueue = "PROCESS_QUEUE"
	// TypeQueueProcessed announces the outcome of a drain pass.
	TypeQueueProcessed = "QUEUE_PROCESSED"
)

// Message is one protocol envelope. Fields beyond Type are populated
// per type: URLs for CACHE_URLS, Processed/Failed for QUEUE_PROCESSED.
type Message struct {
	Type      string   `json:"type"`
	URLs      []string `json:"urls,omitempty"`
	Processed int      `json:"processed,omitempty"`
	Failed    int      `json:"failed,omitempty"`
}

// DecodeMessage parses a protocol envelope and rejects unknown types.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("message: %w", err)
	}
	switch m.Type {
	case TypeSkipWaiting, TypeCacheURLs, TypeProcessQueue, TypeQueueProcessed:
		return m, nil
	case "":
		return Message{}, fmt.Errorf("message: missing type")
	default:
		return Message{}, fmt.Errorf("message: unknown type %q", m.Type)
	}
}

// QueueProcessed builds the drain-pass announcement.
func QueueProcessed(processed, failed int) Message {
	return Message{Type: TypeQueueProcessed, Processed: processed, Failed: failed}
}
