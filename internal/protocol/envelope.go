package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/Meet/internal/core"
)

var ErrBadPayload = errors.New("bad payload")

// Envelope is the frame shape in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MissingFieldsError lists required payload fields that were absent or blank.
type MissingFieldsError struct {
	Event  string
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("%s: missing required fields: %s", e.Event, strings.Join(e.Fields, ", "))
}

// Validator is implemented by every inbound payload.
type Validator interface {
	Validate() error
}

func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if env.Event == "" {
		return env, fmt.Errorf("%w: empty event", ErrBadPayload)
	}
	return env, nil
}

// Bind decodes the envelope data into T and validates it.
func Bind[T any, PT interface {
	*T
	Validator
}](env Envelope) (*T, error) {
	var v T
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, env.Event, err)
		}
	}
	if err := PT(&v).Validate(); err != nil {
		return nil, err
	}
	return &v, nil
}

func Encode(event string, v any) (core.Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// required builds a MissingFieldsError from name/value pairs.
func required(event string, pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingFieldsError{Event: event, Fields: missing}
}
