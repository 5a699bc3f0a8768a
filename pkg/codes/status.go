package codes

// Connection Status Codes
const (
	StatusDisconnected  = "disconnected"
	StatusConnecting    = "connecting"
	StatusBinding       = "binding"
	StatusBound         = "bound"
	StatusUnbinding     = "unbinding"
	StatusBindingFailed = "binding_failed"
	StatusDisabled      = "disabled"
	StatusError         = "error"
)

// Message Status Codes (canonical set, persisted on messages and
// delivery_reports rows)
const (
	MsgStatusPending    = "PENDING"
	MsgStatusQueued     = "QUEUED"
	MsgStatusSending    = "SENDING"
	MsgStatusProcessing = "PROCESSING"
	MsgStatusDelivered  = "DELIVERED"
	MsgStatusFailed     = "FAILED"
	MsgStatusError      = "ERROR"
	MsgStatusExpired    = "EXPIRED"
)

// statusRank orders message statuses by overwrite priority. A lower rank is
// more final: a status write is applied only when the incoming rank is less
// than or equal to the current rank. Both the message updater and the
// delivery report updater go through CanOverwrite so the two call sites
// cannot diverge.
var statusRank = map[string]int{
	MsgStatusFailed:     1,
	MsgStatusError:      1,
	MsgStatusDelivered:  2,
	MsgStatusExpired:    3,
	MsgStatusSending:    4,
	MsgStatusProcessing: 5,
	MsgStatusQueued:     6,
	MsgStatusPending:    7,
}

const unknownStatusRank = 100

// StatusRank returns the overwrite rank for a message status. Unknown
// statuses rank below everything so any canonical status may replace them.
func StatusRank(status string) int {
	if r, ok := statusRank[status]; ok {
		return r
	}
	return unknownStatusRank
}

// CanOverwrite reports whether a row currently holding current may be
// updated to incoming under the rank rule.
func CanOverwrite(current, incoming string) bool {
	return StatusRank(incoming) <= StatusRank(current)
}

// IsTerminal reports whether a status can no longer change through the
// normal delivery pipeline.
func IsTerminal(status string) bool {
	switch status {
	case MsgStatusDelivered, MsgStatusFailed, MsgStatusError, MsgStatusExpired:
		return true
	}
	return false
}

// Submission Error Codes
const (
	ErrorCodeWindowFull  = "PROVIDER_WINDOW_FULL"
	ErrorCodeTimeout     = "PROVIDER_TIMEOUT"
	ErrorCodeSystemError = "SYS_ERR"
)
