package smpp

import (
	"fmt"
	"strings"
	"time"

	"github.com/linxGnu/gosmpp/pdu"
)

// destAddress builds the destination address for a submit. Numbers carrying
// a `+` prefix or more than 10 digits are treated as international
// (TON=1/NPI=1) with the `+` stripped; short national numbers go out with
// TON=0/NPI=0 and are passed through untouched.
func destAddress(phoneNumber string) (pdu.Address, error) {
	addr := pdu.NewAddress()

	number := strings.TrimSpace(phoneNumber)
	international := strings.HasPrefix(number, "+")
	if international {
		number = number[1:]
	}
	if len(number) > 10 {
		international = true
	}

	if international {
		addr.SetTon(1)
		addr.SetNpi(1)
	} else {
		addr.SetTon(0)
		addr.SetNpi(0)
	}

	if err := addr.SetAddress(number); err != nil {
		return addr, fmt.Errorf("invalid destination address %q: %w", phoneNumber, err)
	}
	return addr, nil
}

// sourceAddress builds the sender address. Alphanumeric and short-code
// senders both go out with TON=0/NPI=0.
func sourceAddress(senderID string) (pdu.Address, error) {
	addr := pdu.NewAddress()
	addr.SetTon(0)
	addr.SetNpi(0)
	if err := addr.SetAddress(senderID); err != nil {
		return addr, fmt.Errorf("invalid source address %q: %w", senderID, err)
	}
	return addr, nil
}

// formatScheduleTime renders t in the SMPP absolute time format
// YYMMDDhhmmss000+ expected in schedule_delivery_time.
func formatScheduleTime(t time.Time) string {
	return t.Format("060102150405") + "000+"
}
