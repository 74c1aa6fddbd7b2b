package fsa

import "errors"

// Result is the tri-state outcome of an actuator operation.
type Result int

const (
	// Success means the reply was attributed, parsed and carried status OK.
	Success Result = iota

	// Fail means a reply (or a send) went wrong in a way other than silence.
	Fail

	// Timeout means nothing arrived within the call's window.
	Timeout
)

// String returns the upper-case result name.
func (r Result) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case Timeout:
		return "TIMEOUT"
	default:
		return "FAIL"
	}
}

// ResultOf folds an operation error into a Result.
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrTimeout):
		return Timeout
	default:
		return Fail
	}
}

// Slot is the per-actuator outcome of a group operation.
type Slot[T any] struct {
	// Address identifies the actuator this slot belongs to.
	Address string

	// Result is the tri-state outcome. Value is only meaningful on Success.
	Result Result

	// Err carries the cause when Result is not Success.
	Err error

	Value T
}

func slotFor[T any](addr string, v T, err error) Slot[T] {
	return Slot[T]{Address: addr, Result: ResultOf(err), Err: err, Value: v}
}

// Addresses returns the address of each slot in order.
func Addresses[T any](slots []Slot[T]) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Address
	}
	return out
}

// Results returns the result of each slot in order.
func Results[T any](slots []Slot[T]) []Result {
	out := make([]Result, len(slots))
	for i, s := range slots {
		out[i] = s.Result
	}
	return out
}
