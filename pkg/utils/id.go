// Package utils holds small shared helpers.
package utils

import "github.com/google/uuid"

// GenID returns a new unique identifier for items, jobs, and audit entries.
func GenID() string {
	return uuid.NewString()
}
