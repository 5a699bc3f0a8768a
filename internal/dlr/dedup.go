package dlr

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultDedupWindow is how long an identical receipt redelivery is
// suppressed. Providers resend receipts on slow acks within seconds;
// anything later is treated as a fresh report and settles through the
// status rank rule instead.
const DefaultDedupWindow = 60 * time.Second

// Deduper remembers recently seen receipts by a digest of their payload
// and PDU sequence number.
type Deduper struct {
	cache *gocache.Cache
}

func NewDeduper(window time.Duration) *Deduper {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Deduper{cache: gocache.New(window, 2*window)}
}

// Seen records the receipt and reports whether it was already present
// within the window. The check and the insert are one atomic step.
func (d *Deduper) Seen(payload string, seq int32) bool {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", payload, seq)))
	key := hex.EncodeToString(sum[:])
	return d.cache.Add(key, struct{}{}, gocache.DefaultExpiration) != nil
}
