package orch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

const (
	DefaultSweepInterval = 30 * time.Second
	// IdleTimeout is how long an online participant may go unseen before the
	// idle sweep sets it offline.
	IdleTimeout = 5 * time.Minute
)

// RunSweeper calls Sweep on every tick and SweepIdle every IdleTimeout until ctx is done.
func (o *Orchestrator) RunSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = DefaultSweepInterval
	}
	t := time.NewTicker(every)
	defer t.Stop()
	idle := time.NewTicker(IdleTimeout)
	defer idle.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := o.Sweep(ctx); n > 0 {
				log.Info().Str("module", "orch.sweep").Int("repaired", n).Msg("stale participants set offline")
			}
		case <-idle.C:
			if n := o.SweepIdle(ctx); n > 0 {
				log.Info().Str("module", "orch.sweep").Int("repaired", n).Msg("idle participants set offline")
			}
		}
	}
}

// Sweep sets offline every participant whose bound connection is no longer
// live and returns how many it repaired.
func (o *Orchestrator) Sweep(ctx context.Context) int {
	ps, err := o.Store.ListConnected(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch.sweep").Msg("list connected")
		return 0
	}
	return o.repair(ctx, ps, func(p *domain.Participant) bool {
		return p.Connected() && !o.Registry.IsLive(core.ConnID(p.ConnID))
	})
}

// SweepIdle sets offline participants still flagged online that were not
// seen for IdleTimeout. A participant bound to a live connection is left alone.
func (o *Orchestrator) SweepIdle(ctx context.Context) int {
	cutoff := o.now().Add(-IdleTimeout)
	ps, err := o.Store.ListIdle(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch.sweep").Msg("list idle")
		return 0
	}
	return o.repair(ctx, ps, func(p *domain.Participant) bool {
		if p.Status != domain.StatusOnline || !p.LastSeen.Before(cutoff) {
			return false
		}
		return !p.Connected() || !o.Registry.IsLive(core.ConnID(p.ConnID))
	})
}

func (o *Orchestrator) repair(ctx context.Context, ps []*domain.Participant, stale func(*domain.Participant) bool) int {
	byRoom := make(map[domain.RoomID][]domain.UserID)
	for _, p := range ps {
		if stale(p) {
			byRoom[p.RoomID] = append(byRoom[p.RoomID], p.UserID)
		}
	}
	n := 0
	for roomID, users := range byRoom {
		n += o.sweepRoom(ctx, roomID, users, stale)
	}
	return n
}

func (o *Orchestrator) sweepRoom(ctx context.Context, roomID domain.RoomID, users []domain.UserID, stale func(*domain.Participant) bool) int {
	unlock := o.Locks.Lock(roomID)
	defer unlock()

	n := 0
	for _, uid := range users {
		// re-read under the lock, a join may have rebound it meanwhile
		p, err := o.Store.GetParticipant(ctx, roomID, uid)
		if err != nil || p == nil || !stale(p) {
			continue
		}
		if err := o.Store.UpdateParticipant(ctx, roomID, uid, domain.OfflinePatch()); err != nil {
			log.Warn().Err(err).Str("module", "orch.sweep").Str("user_id", string(uid)).Msg("mark offline")
			continue
		}
		if p.Status == domain.StatusInCall {
			o.broadcast(roomID, protocol.EvCallEnd, protocol.CallEndNotice{UserID: uid, Reason: ReasonDisconnected}, "")
		}
		n++
	}
	if n > 0 {
		o.broadcastParticipants(ctx, roomID)
	}
	return n
}
