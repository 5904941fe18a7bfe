package pubsub

import "github.com/google/uuid"

// Identifier is an opaque, process-unique handle assigned to every PubSub
// entity. It is 128 bits, backed by a random
// UUID rather than a monotonic counter so identifiers issued by independent
// Managers never collide if their state is later merged for diagnostics.
type Identifier uuid.UUID

// NilIdentifier is the zero value, never issued by generateUniqueIdentifier.
var NilIdentifier Identifier

func (id Identifier) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether id is the zero Identifier.
func (id Identifier) IsNil() bool {
	return id == NilIdentifier
}

// generateUniqueIdentifier returns a fresh opaque identifier never
// previously issued. Collisions are cryptographically negligible with
// uuid.New's random source, so no registry check is performed.
func generateUniqueIdentifier() Identifier {
	return Identifier(uuid.New())
}
