package fsa

import (
	"encoding/json"
	"fmt"
)

// JSON request methods.
const (
	MethodGet = "GET"
	MethodSet = "SET"
)

// statusOK is the only reply status accepted as success.
const statusOK = "OK"

// Request is one descriptive-protocol request.
//
// On the wire it is a flat JSON object:
//
//	{"method":"SET","reqTarget":"/control_word","property":"","control_word":15}
type Request struct {
	Method   string
	Target   string
	Property string
	Fields   map[string]any

	// hasProperty controls whether "property" is sent at all. Telemetry and
	// setpoint requests omit it.
	hasProperty bool
}

// Get builds a GET request for target.
func Get(target string) Request {
	return Request{Method: MethodGet, Target: target, hasProperty: true}
}

// Set builds a SET request for target with the given fields.
func Set(target string, fields map[string]any) Request {
	return Request{Method: MethodSet, Target: target, Fields: fields, hasProperty: true}
}

// Measure builds a GET /measured request asking for the flagged fields.
func Measure(fields ...string) Request {
	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f] = true
	}
	return Request{Method: MethodGet, Target: targetMeasured, Fields: m}
}

// Control builds a SET request for a closed-loop setpoint target.
func Control(target string, replyEnable bool, fields map[string]any) Request {
	m := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		m[k] = v
	}
	m["reply_enable"] = replyEnable
	return Request{Method: MethodSet, Target: target, Fields: m}
}

// WithProperty returns a copy of r with the property selector set.
func (r Request) WithProperty(property string) Request {
	r.Property = property
	r.hasProperty = true
	return r
}

// MarshalJSON flattens the envelope and fields into one object.
func (r Request) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		m[k] = v
	}
	m["method"] = r.Method
	m["reqTarget"] = r.Target
	if r.hasProperty {
		m["property"] = r.Property
	}
	return json.Marshal(m)
}

// Encode returns the datagram payload for r.
func (r Request) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding %s %s: %w", r.Method, r.Target, err)
	}
	return data, nil
}

// Reply is a decoded descriptive-protocol reply.
type Reply struct {
	Status string `json:"status"`
	raw    []byte
}

// DecodeReply parses a reply datagram.
//
// Returns an error wrapping ErrMalformed when the payload is not a JSON
// object, or ErrStatus when status is not "OK". In the ErrStatus case the
// parsed reply is also returned so callers can log it.
func DecodeReply(data []byte) (*Reply, error) {
	var r Reply
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	r.raw = data
	if r.Status != statusOK {
		return &r, fmt.Errorf("%w: %q", ErrStatus, r.Status)
	}
	return &r, nil
}

// Decode unmarshals the reply body into v.
func (r *Reply) Decode(v any) error {
	if err := json.Unmarshal(r.raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

// Fields returns the reply as a generic map.
func (r *Reply) Fields() (map[string]any, error) {
	var m map[string]any
	if err := r.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// Raw returns the reply payload as received.
func (r *Reply) Raw() []byte {
	return r.raw
}

// cacheUpdate picks out every reply field that feeds the endpoint caches.
// Absent or wrongly typed fields stay nil and leave the cache untouched.
type cacheUpdate struct {
	Position       *float64
	Velocity       *float64
	Torque         *float64
	Current        *float64
	CurrentID      *float64
	PhaseCurrentIB *float64
	PhaseCurrentIC *float64
	Angle          *float64
	StatusWord     *int
	ErrorCode      *FaultCode
	Mode           *int
}

func (r *Reply) cacheUpdate() cacheUpdate {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.raw, &fields); err != nil {
		return cacheUpdate{}
	}

	u := cacheUpdate{
		Position:       field[float64](fields, "position"),
		Velocity:       field[float64](fields, "velocity"),
		Torque:         field[float64](fields, "torque"),
		Current:        field[float64](fields, "current"),
		CurrentID:      field[float64](fields, "current_id"),
		PhaseCurrentIB: field[float64](fields, "phase_current_ib"),
		PhaseCurrentIC: field[float64](fields, "phase_current_ic"),
		Angle:          field[float64](fields, "angle"),
		StatusWord:     field[int](fields, "status_word"),
		Mode:           field[int](fields, "mode_of_operation"),
	}
	if v := field[int64](fields, "error_code"); v != nil {
		if code, err := faultCodeOf(*v); err == nil {
			u.ErrorCode = &code
		}
	}
	return u
}

// field decodes fields[key] into a T, or returns nil when the key is absent,
// null or not a T.
func field[T any](fields map[string]json.RawMessage, key string) *T {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	var v *T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
