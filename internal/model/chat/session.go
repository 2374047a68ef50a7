package chat

import "time"

// Snapshot is a point-in-time copy of a session's transcript.
type Snapshot struct {
	ID        string    `json:"id"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
