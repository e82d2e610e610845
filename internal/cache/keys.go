package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// JobViewKey addresses the cached status view of a terminal job. The owner is
// part of the key so a cached view is never served to another caller.
func JobViewKey(ownerID string, jobID uuid.UUID) string {
	return fmt.Sprintf("jobview:%s:%s", ownerID, jobID)
}

func RateLimitKey(ownerID string) string {
	return fmt.Sprintf("ratelimit:%s", ownerID)
}
