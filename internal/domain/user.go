// Package domain contains room entities and their invariants, no transport or storage.
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 64
	MaxRoomIDLen   = 128
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrRoomIDEmpty     = errors.New("room id empty")
	ErrRoomIDTooLong   = errors.New("room id too long")

	// ErrNotOwner is returned when an owner-only action is invoked by someone else.
	ErrNotOwner = errors.New("only the creator can end the meeting")
	// ErrRoomNotFound is returned when a room record does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotJoined is returned when a connection acts on a room it is not bound to.
	ErrNotJoined = errors.New("connection has not joined a room")
)

type UserID string

func (id UserID) Validate() error {
	if len(strings.TrimSpace(string(id))) == 0 {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}

// ValidateUsername checks display name bounds after trimming.
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
