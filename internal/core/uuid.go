package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewUUIDv7 returns a time-ordered UUID for job ids. Falls back to a
// timestamp id if the random source is exhausted.
func NewUUIDv7() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("job-%d", time.Now().UnixNano())
	}
	return id.String()
}
