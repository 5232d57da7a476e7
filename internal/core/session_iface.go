package core

import "github.com/google/uuid"

// ConnID identifies one live transport connection for its whole lifetime.
type ConnID string

func NewConnID() ConnID { return ConnID(uuid.NewString()) }

// ClientToken is the long-lived browser token carried by the "ct" cookie.
type ClientToken string
