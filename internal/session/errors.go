package session

import (
	"errors"

	"github.com/1ureka/txbeam/internal/assembly"
	"github.com/1ureka/txbeam/internal/link"
	"github.com/1ureka/txbeam/internal/protocol"
)

// Errors a session can end with or report. Those re-exported from lower
// packages are the same values, so errors.Is works against either name.
var (
	ErrTransportUnavailable = link.ErrUnavailable
	ErrChannelNotFound      = link.ErrChannelNotFound
	ErrSendRejected         = link.ErrSendRejected
	ErrDecode               = protocol.ErrDecode
	ErrProtocolMismatch     = assembly.ErrProtocolMismatch
	ErrIncomplete           = assembly.ErrIncomplete

	ErrDiscoveryTimeout = errors.New("no peer discovered")
	ErrStalled          = errors.New("link stalled")
	ErrCancelled        = errors.New("transfer cancelled")
	ErrAlreadyStarted   = errors.New("session already started")
)
