package registry

import "fmt"

// ID is a process-unique, monotonically assigned connection identifier.
// Equality on the counter value itself is the identity, and the counter
// only ever increases, so two live connections can never compare equal.
type ID uint64

func (id ID) String() string {
	return fmt.Sprintf("conn-%d", uint64(id))
}
