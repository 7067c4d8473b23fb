// Package action defines the queued mutation model: the durable unit of
// write work, its lifecycle status, and the content-addressed fingerprint
// used to drop duplicate submissions.
package action

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the lifecycle state of a queued action.
type Status string

const (
	// StatusPending means the action is waiting to be replayed.
	StatusPending Status = "pending"
	// StatusProcessing means a replay attempt is in flight. Transient:
	// a processing entry observed at startup is suspect and is reset to
	// pending for reconciliation.
	StatusProcessing Status = "processing"
	// StatusCompleted means the action was delivered. Completed entries
	// are cleared eagerly, never retained.
	StatusCompleted Status = "completed"
	// StatusFailed means the retry budget is exhausted. Failed entries
	// are cleared eagerly, never retained.
	StatusFailed Status = "failed"
)

// Valid reports whether s is one of the four lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Queued is a durable pending write operation.
//
// ID is generated client-side (UUIDv7, monotonic enough for insertion
// ordering). Timestamp is creation time and drives both ordering and the
// 7-day staleness sweep.
type Queued struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	Endpoint  string            `json:"endpoint"`
	Method    string            `json:"method"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	UserID    string            `json:"userId,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Retries   int               `json:"retries"`
	Status    Status            `json:"status"`
}

// Queueable methods. GET and HEAD are reads; they go through the cache
// manager, never the mutation queue.
var queueableMethods = map[string]bool{
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}

// Queueable reports whether a request method is eligible for queueing.
func Queueable(method string) bool {
	return queueableMethods[strings.ToUpper(method)]
}

// Infer derives a logical action tag from the endpoint and method when the
// caller did not supply one.
func Infer(method, endpoint string) string {
	method = strings.ToUpper(method)
	switch {
	case strings.Contains(endpoint, "/like"):
		return "like_post"
	case strings.Contains(endpoint, "/forum-posts"):
		switch method {
		case "POST":
			return "create_post"
		case "PUT", "PATCH":
			return "update_post"
		case "DELETE":
			return "delete_post"
		}
	case strings.Contains(endpoint, "/upload-image"):
		return "upload_image"
	case strings.Contains(endpoint, "/signup"):
		return "signup"
	}
	return "unknown"
}
