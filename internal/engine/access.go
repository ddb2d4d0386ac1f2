package engine

import "github.com/google/uuid"

// AccessController answers whether a caller may run administrative
// operations: listing assets and flipping the pause switch.
type AccessController interface {
	IsOwner(caller uuid.UUID) bool
}

// StaticOwner authorizes exactly one account, fixed at construction.
type StaticOwner struct {
	owner uuid.UUID
}

func NewStaticOwner(owner uuid.UUID) *StaticOwner {
	return &StaticOwner{owner: owner}
}

func (s *StaticOwner) IsOwner(caller uuid.UUID) bool {
	return caller == s.owner
}
