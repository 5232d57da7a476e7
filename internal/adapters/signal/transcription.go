package signal

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/dkeye/Meet/internal/transcribe"
)

func (ctl *SignalWSController) handleXfyunStatus(id core.ConnID, env protocol.Envelope, action string) {
	dispatch(ctl, id, env, func(p *protocol.TranscriptionControl) error {
		return ctl.Orch.XfyunStatus(id, action, p)
	})
}

func (ctl *SignalWSController) handleXfyunResult(id core.ConnID, env protocol.Envelope) {
	dispatch(ctl, id, env, func(p *protocol.TranscriptionResult) error {
		return ctl.Orch.XfyunResult(id, p)
	})
}

// Streaming failures are reported on the streaming error event, not the generic one.
func (ctl *SignalWSController) streamingError(id core.ConnID, err error) {
	log.Warn().Err(err).Str("module", "signal").Str("conn_id", string(id)).Msg("streaming transcription")
	ctl.Orch.Send(id, protocol.EvStreamingTranscriptionError, protocol.StreamingError{Error: err.Error()})
}

func (ctl *SignalWSController) handleStartStreaming(ctx context.Context, id core.ConnID, env protocol.Envelope) {
	p, err := protocol.Bind[protocol.StartStreaming](env)
	if err != nil {
		ctl.fail(id, env.Event, err)
		return
	}
	if err := ctl.Orch.StartStreaming(ctx, id, p); err != nil {
		ctl.streamingError(id, err)
	}
}

func (ctl *SignalWSController) handleAudioData(id core.ConnID, env protocol.Envelope) {
	p, err := protocol.Bind[protocol.AudioData](env)
	if err != nil {
		ctl.fail(id, env.Event, err)
		return
	}
	ctl.handleAudioFrame(id, p.AudioData)
}

func (ctl *SignalWSController) handleAudioFrame(id core.ConnID, frame []byte) {
	if err := ctl.Orch.Audio(id, frame); err != nil {
		ctl.streamingError(id, err)
	}
}

func (ctl *SignalWSController) handleStopStreaming(id core.ConnID) {
	ctl.Orch.StopStreaming(id)
}

// HandleXfyun upgrades to the framed relay socket and serves it until the client leaves.
func HandleXfyun(ctx context.Context, c *gin.Context, relay *transcribe.XfyunRelay) {
	ws, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("xfyun ws upgrade")
		return
	}
	defer ws.Close()
	log.Info().Str("module", "signal").Str("sid", c.GetString("client_token")).Msg("xfyun relay connected")
	relay.Serve(ctx, ws)
}
