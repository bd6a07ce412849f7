package alert

import "errors"

// ErrSendFailed is returned when an alert could not be delivered. It wraps
// the underlying cause; callers should compare with errors.Is. Delivery
// failures are non-fatal — the SyncRun row is persisted regardless.
var ErrSendFailed = errors.New("alert: send failed")
