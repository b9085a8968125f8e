package engine

import "github.com/pkg/errors"

// ErrSettleTimeout is returned by WaitUntilSettled when work is still in
// flight at the deadline.
var ErrSettleTimeout = errors.New("engine: timed out waiting for all orders to settle")
