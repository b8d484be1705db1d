// Package domain contains entity without logic, just meta-data
package domain

// UserID is the canonical identity key handed over by the identity
// collaborator. This layer never resolves or reconciles identities;
// whatever arrives in the handshake is the one key used everywhere.
type UserID string

// Role says which side of a consultation a connection can take.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}
