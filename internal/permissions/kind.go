package permissions

import (
	"strings"

	"github.com/google/uuid"
)

// ResourceKind tags which family of resources a grant applies to.
type ResourceKind string

const (
	KindServer ResourceKind = "server"
	KindVM     ResourceKind = "vm"
)

// Kinds returns every supported resource kind.
func Kinds() []ResourceKind {
	return []ResourceKind{KindServer, KindVM}
}

// Valid reports whether k is a supported kind.
func (k ResourceKind) Valid() bool {
	return k == KindServer || k == KindVM
}

// ParseKind accepts the kind as it appears in URLs ("server", "servers", "vm", "vms").
func ParseKind(raw string) (ResourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "server", "servers":
		return KindServer, nil
	case "vm", "vms":
		return KindVM, nil
	}
	return "", ErrInvalidKind
}

// ResourceRef points at one server or one VM.
type ResourceRef struct {
	Kind ResourceKind `json:"kind"`
	ID   uuid.UUID    `json:"id"`
}
