package signal

import (
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/protocol"
)

func (ctl *SignalWSController) handleHeartbeat(id core.ConnID, env protocol.Envelope) {
	dispatch(ctl, id, env, func(p *protocol.Heartbeat) error {
		ctl.Orch.Heartbeat(id, p)
		return nil
	})
}
