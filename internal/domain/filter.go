package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionFilter narrows transaction listings and analytics scans.
// Zero values mean "no constraint".
type TransactionFilter struct {
	TenantID        uuid.UUID
	TransactionType string
	Status          string
	From            time.Time
	To              time.Time
	Limit           int
	Offset          int
}

// EntityFilter narrows entity listings.
type EntityFilter struct {
	TenantID   uuid.UUID
	EntityType string
	Limit      int
	Offset     int
}
