package domain

import "github.com/google/uuid"

// Brand is a vehicle brand whose listings can be republished.
// Brand management is external; the core only reads the directory.
type Brand struct {
	ID     uuid.UUID
	Name   string
	Active bool
}
