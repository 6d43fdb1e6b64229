package auth

import "fmt"

// Entity classes protected by the system flag.
const (
	EntityUser       = "User"
	EntityRole       = "Role"
	EntityPermission = "Permission"
)

type guardOp string

const (
	opEdit   guardOp = "edit"
	opDelete guardOp = "delete"
)

// guardSystem refuses writes to rows flagged is_system. Callers must have
// loaded the row first so a missing row surfaces as not found.
func guardSystem(entity string, isSystem bool, op guardOp) error {
	if !isSystem {
		return nil
	}
	return &Error{
		Kind:    ErrSystemEntity,
		Message: fmt.Sprintf("Cannot %s System %s", op, entity),
	}
}
