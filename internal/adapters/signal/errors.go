package signal

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/dkeye/Meet/internal/transcribe"
)

var invalidInput = []error{
	domain.ErrUserIDEmpty,
	domain.ErrUserIDTooLong,
	domain.ErrUsernameEmpty,
	domain.ErrUsernameTooLong,
	domain.ErrRoomIDEmpty,
	domain.ErrRoomIDTooLong,
}

func errorCode(err error) string {
	var missing *protocol.MissingFieldsError
	switch {
	case errors.As(err, &missing):
		return protocol.CodeMissingFields
	case errors.Is(err, protocol.ErrInvalidSDP):
		return protocol.CodeInvalidSDP
	case errors.Is(err, protocol.ErrBadPayload):
		return protocol.CodeBadPayload
	case errors.Is(err, domain.ErrNotOwner):
		return protocol.CodeNotOwner
	case errors.Is(err, domain.ErrNotJoined):
		return protocol.CodeNotJoined
	case errors.Is(err, domain.ErrRoomNotFound):
		return protocol.CodeRoomNotFound
	case errors.Is(err, orch.ErrTranscriptionDisabled),
		errors.Is(err, transcribe.ErrNotConnected),
		errors.Is(err, transcribe.ErrNotStreaming):
		return protocol.CodeTranscriptionFailed
	}
	for _, e := range invalidInput {
		if errors.Is(err, e) {
			return protocol.CodeBadPayload
		}
	}
	return protocol.CodeInternal
}

// fail reports err to the connection. The connection stays open.
func (ctl *SignalWSController) fail(id core.ConnID, event string, err error) {
	code := errorCode(err)
	msg := err.Error()
	if code == protocol.CodeInternal {
		log.Error().Err(err).Str("module", "signal").Str("conn_id", string(id)).Str("event", event).Msg("handler failed")
		msg = "internal error"
	} else {
		log.Debug().Err(err).Str("module", "signal").Str("conn_id", string(id)).Str("event", event).Str("code", code).Msg("rejected")
	}
	ctl.Orch.SendError(id, code, msg)
}
