package protocol

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var ErrInvalidSDP = errors.New("invalid session description")

func validateSDP(event, field string, sd *webrtc.SessionDescription, want webrtc.SDPType) error {
	if sd == nil || sd.SDP == "" {
		return &MissingFieldsError{Event: event, Fields: []string{field}}
	}
	if sd.Type != want {
		return fmt.Errorf("%w: %s type %s, want %s", ErrInvalidSDP, field, sd.Type, want)
	}
	if _, err := sd.Unmarshal(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSDP, err)
	}
	return nil
}
