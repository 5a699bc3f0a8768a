package errormapper

import (
	"fmt"
	"strings"

	"github.com/tutadeploy/smpp-server/pkg/codes"
)

// receiptStatToCanonical maps the stat field of a delivery receipt onto the
// canonical message status set. Anything unrecognized is treated as PENDING
// rather than dropped: carriers emit vendor-specific intermediate states and
// a later receipt will settle the message.
var receiptStatToCanonical = map[string]string{
	ReceiptStatDelivered:     codes.MsgStatusDelivered,
	ReceiptStatExpired:       codes.MsgStatusExpired,
	ReceiptStatDeleted:       codes.MsgStatusFailed,
	ReceiptStatUndeliverable: codes.MsgStatusFailed,
	ReceiptStatRejected:      codes.MsgStatusFailed,
	ReceiptStatAccepted:      codes.MsgStatusPending,
	ReceiptStatEnroute:       codes.MsgStatusPending,
	ReceiptStatUnknown:       codes.MsgStatusPending,
}

// MapReceiptStatus translates a provider delivery receipt stat value into a
// canonical message status.
func MapReceiptStatus(stat string) string {
	if mapped, ok := receiptStatToCanonical[strings.ToUpper(strings.TrimSpace(stat))]; ok {
		return mapped
	}
	return codes.MsgStatusPending
}

// MapCommandStatus translates an SMPP command_status returned on a submit
// response into an internal error code.
func MapCommandStatus(status uint32) string {
	switch status {
	case 0x00000000:
		return "" // OK
	case 0x0000000A, 0x0000000B: // invalid source / destination address
		return ErrorCodeInvalidMSISDN
	case 0x00000001, 0x00000002: // invalid message length / command length
		return ErrorCodeInvalidContent
	case 0x00000058: // throttled
		return ErrorCodeProviderUnavailable
	case 0x00000045: // submit_sm failed
		return ErrorCodeProviderReject
	case 0x00000008: // system error
		return ErrorCodeSystemError
	default:
		return ErrorCodeProviderReject
	}
}

// FormatCommandStatus renders a provider command_status the way it is stored
// on failed rows, e.g. "0x00000045".
func FormatCommandStatus(status uint32) string {
	return fmt.Sprintf("0x%08X", status)
}
