package dlr

import (
	"errors"
	"regexp"
)

// ErrNotReceipt marks a deliver_sm payload with no usable receipt id.
// Mobile-originated traffic and free-text provider notices land here.
var ErrNotReceipt = errors.New("payload is not a delivery receipt")

// Receipt is the parsed form of a delivery receipt text payload. Only the
// id, stat and err fields matter for correlation; everything else in the
// receipt (submit date, done date, text) is ignored.
type Receipt struct {
	ProviderMessageID string
	Stat              string
	ErrorCode         string
	Raw               string
}

// Receipts in the wild deviate from the appendix B layout in spacing and
// casing, so each field is pulled out independently.
var (
	receiptIDPattern   = regexp.MustCompile(`(?i)\bid:\s*([^\s]+)`)
	receiptStatPattern = regexp.MustCompile(`(?i)\bstat:\s*([A-Za-z_]+)`)
	receiptErrPattern  = regexp.MustCompile(`(?i)\berr:\s*([^\s]+)`)
)

// ParseReceipt extracts the correlation fields from a receipt payload.
func ParseReceipt(payload string) (Receipt, error) {
	r := Receipt{Raw: payload}

	m := receiptIDPattern.FindStringSubmatch(payload)
	if m == nil {
		return r, ErrNotReceipt
	}
	r.ProviderMessageID = m[1]

	if m := receiptStatPattern.FindStringSubmatch(payload); m != nil {
		r.Stat = m[1]
	}
	if m := receiptErrPattern.FindStringSubmatch(payload); m != nil {
		r.ErrorCode = m[1]
	}
	return r, nil
}
