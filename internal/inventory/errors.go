package inventory

import "errors"

// ErrActuatorNotFound is returned when an address has never been seen.
var ErrActuatorNotFound = errors.New("inventory: actuator not found")
