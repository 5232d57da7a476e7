package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkeye/Meet/internal/protocol"
)

type exitReason int

const (
	exitDropped exitReason = iota
	exitDead
	exitForced
	exitRateLimited
	exitStopped
)

func (r exitReason) String() string {
	switch r {
	case exitDead:
		return "heartbeat timeout"
	case exitForced:
		return "forced"
	case exitRateLimited:
		return "rate limited"
	case exitStopped:
		return "stopped"
	}
	return "dropped"
}

// serve runs one connection until it ends and reports why.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) exitReason {
	done := make(chan exitReason, 1)
	acks := make(chan struct{}, 1)
	go c.read(conn, done, acks)

	hb := time.NewTicker(c.cfg.HeartbeatInterval)
	defer hb.Stop()
	var (
		ackTimer *time.Timer
		ackC     <-chan time.Time
	)
	stopAck := func() {
		if ackTimer != nil {
			ackTimer.Stop()
			ackTimer, ackC = nil, nil
		}
	}
	defer stopAck()

	for {
		select {
		case <-ctx.Done():
			c.detach(conn)
			<-done
			return exitStopped
		case r := <-done:
			c.detach(conn)
			return r
		case <-acks:
			stopAck()
		case <-hb.C:
			hbPayload := protocol.Heartbeat{Timestamp: protocol.Now()}
			c.mu.Lock()
			if c.lastJoin != nil {
				hbPayload.RoomID, hbPayload.UserID = c.lastJoin.RoomID, c.lastJoin.UserID
			}
			c.mu.Unlock()
			_ = c.Send(protocol.EvHeartbeat, hbPayload)
			if ackTimer == nil {
				ackTimer = time.NewTimer(c.cfg.AckTimeout)
				ackC = ackTimer.C
			}
		case <-ackC:
			c.detach(conn)
			<-done
			return exitDead
		}
	}
}

func (c *Client) read(conn *websocket.Conn, done chan<- exitReason, acks chan<- struct{}) {
	limited := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if limited {
				done <- exitRateLimited
			} else {
				done <- exitDropped
			}
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		switch env.Event {
		case protocol.EvHeartbeatResponse:
			select {
			case acks <- struct{}{}:
			default:
			}
		case protocol.EvForceDisconnect:
			c.dispatch(env)
			done <- exitForced
			return
		case protocol.EvError:
			var e protocol.ErrorPayload
			if json.Unmarshal(env.Data, &e) == nil && e.Code == protocol.CodeRateLimited {
				limited = true
			}
		}
		c.dispatch(env)
	}
}
