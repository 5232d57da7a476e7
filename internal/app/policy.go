package app

import (
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose outbound buffer is full.
type Policy interface {
	OnBackPressure(roomID domain.RoomID, conn core.ConnID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomID, core.ConnID) BackpressureAction {
	return KickMember
}

// DropPolicy keeps slow members connected and loses the frame.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.RoomID, core.ConnID) BackpressureAction {
	return DropFrame
}

func PolicyByName(name string) Policy {
	if name == "drop" {
		return DropPolicy{}
	}
	return SimplePolicy{}
}
