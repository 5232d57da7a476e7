package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/protocol"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ping := time.NewTicker(ctl.pingPeriod())
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			c.flush()
			return
		case data, ok := <-c.send:
			if !ok {
				c.writeClose()
				return
			}
			if err := c.write(data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (c *WsSignalConn) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WsSignalConn) writeClose() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// flush writes whatever is still queued, then the close frame. A terminal
// error queued right before cancellation still reaches the peer.
func (c *WsSignalConn) flush() {
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.writeClose()
				return
			}
			if err := c.write(data); err != nil {
				return
			}
		default:
			c.writeClose()
			return
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, id core.ConnID, addr string, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn_id", string(id)).Msg("readPump closing")
		c.Close()
		ctl.Orch.Disconnect(context.WithoutCancel(ctx), id)
	}()

	pongWait := ctl.pingPeriod() * 10 / 9
	c.conn.SetReadLimit(ctl.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("conn_id", string(id)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if ctl.Limiter != nil && !ctl.Limiter.Allow(addr) {
			log.Warn().Str("module", "signal").Str("conn_id", string(id)).Str("addr", addr).Msg("rate limited")
			ctl.Orch.SendError(id, protocol.CodeRateLimited, "too many events, try again later")
			return
		}
		ctl.handleSignal(ctx, id, mt, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, id core.ConnID, mt int, data []byte) {
	if mt == websocket.BinaryMessage {
		ctl.handleAudioFrame(id, data)
		return
	}
	env, err := protocol.Decode(data)
	if err != nil {
		ctl.fail(id, "", err)
		return
	}

	switch env.Event {
	case protocol.EvJoinRoom:
		ctl.handleJoin(ctx, id, env)
	case protocol.EvLeaveRoom:
		ctl.handleLeave(ctx, id, env)
	case protocol.EvSendMessage:
		ctl.handleSendMessage(ctx, id, env)
	case protocol.EvTyping:
		ctl.handleTyping(id, env)
	case protocol.EvEndMeeting:
		ctl.handleEndMeeting(ctx, id, env)
	case protocol.EvCallInvite:
		ctl.handleCallInvite(ctx, id, env)
	case protocol.EvCallAccept:
		ctl.handleCallAccept(ctx, id, env)
	case protocol.EvCallReject:
		ctl.handleCallReject(id, env)
	case protocol.EvCallEnd:
		ctl.handleCallEnd(ctx, id, env)
	case protocol.EvCallOffer:
		ctl.handleOffer(id, env)
	case protocol.EvCallAnswer:
		ctl.handleAnswer(id, env)
	case protocol.EvIceCandidate:
		ctl.handleCandidate(id, env)
	case protocol.EvHeartbeat:
		ctl.handleHeartbeat(id, env)
	case protocol.EvXfyunTranscriptionStart:
		ctl.handleXfyunStatus(id, env, "start")
	case protocol.EvXfyunTranscriptionStop:
		ctl.handleXfyunStatus(id, env, "stop")
	case protocol.EvXfyunTranscriptionResult:
		ctl.handleXfyunResult(id, env)
	case protocol.EvStartStreamingTranscription:
		ctl.handleStartStreaming(ctx, id, env)
	case protocol.EvAudioData:
		ctl.handleAudioData(id, env)
	case protocol.EvStopStreamingTranscription:
		ctl.handleStopStreaming(id)
	default:
		log.Warn().Str("module", "signal").Str("event", env.Event).Msg("unknown signal")
		ctl.Orch.SendError(id, protocol.CodeUnknownEvent, "unknown event "+env.Event)
	}
}

// dispatch binds the payload of env and hands it to fn, reporting failures to id.
func dispatch[T any, PT interface {
	*T
	protocol.Validator
}](ctl *SignalWSController, id core.ConnID, env protocol.Envelope, fn func(*T) error) {
	p, err := protocol.Bind[T, PT](env)
	if err != nil {
		ctl.fail(id, env.Event, err)
		return
	}
	if err := fn(p); err != nil {
		ctl.fail(id, env.Event, err)
	}
}
