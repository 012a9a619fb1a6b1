package store

import "fmt"

// MaxUserIDLength caps user identifier strings before they hit the
// database; the schema constrains these columns to VARCHAR(255).
const MaxUserIDLength = 255

// ValidateUserID checks that a user identifier does not exceed MaxUserIDLength.
func ValidateUserID(id string) error {
	if len(id) > MaxUserIDLength {
		return fmt.Errorf("user identifier too long: %d chars (max %d)", len(id), MaxUserIDLength)
	}
	return nil
}
