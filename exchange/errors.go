package exchange

import (
	"errors"
	"fmt"
)

// ErrTimeout describes a server not replying to a command within
// T_resp. Client.Tick does not return it: on a missed reply it passes
// transport.ErrTimeout to the transport-error handler, reports
// OutcomeTimeout and advances to the next server.
var ErrTimeout = errors.New("exchange: no reply within T_resp")

// LossOfSyncError reports that a reply's event offset did not follow
// the client's last_offset by exactly one (spec §4.C step 4, §7).
type LossOfSyncError struct {
	Addr     byte
	Expected uint32
	Got      uint32
}

func (e *LossOfSyncError) Error() string {
	return fmt.Sprintf("exchange: server %d loss of sync: expected offset %d, got %d", e.Addr, e.Expected, e.Got)
}
