package interfaces

import "errors"

// ErrTransferUnconfirmed marks a transfer that was broadcast but whose outcome
// is not known yet. The value may still leave custody.
var ErrTransferUnconfirmed = errors.New("transfer broadcast but not confirmed")
