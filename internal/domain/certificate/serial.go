package certificate

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// DraftSerialPrefix marks a placeholder serial that is replaced on submission.
const DraftSerialPrefix = "DRAFT-"

// DefaultRegionCode is used when the creator has no region on file.
const DefaultRegionCode = "GAR"

// IsPlaceholderSerial reports whether s is a draft placeholder.
func IsPlaceholderSerial(s string) bool {
	return strings.HasPrefix(s, DraftSerialPrefix)
}

// DraftSerials issues DRAFT-<unix millis> placeholders. Values are strictly
// increasing within the process, so two drafts created in the same
// millisecond still differ.
type DraftSerials struct {
	last atomic.Int64
}

func (d *DraftSerials) Next(now time.Time) string {
	ms := now.UnixMilli()
	for {
		prev := d.last.Load()
		next := ms
		if next <= prev {
			next = prev + 1
		}
		if d.last.CompareAndSwap(prev, next) {
			return DraftSerialPrefix + strconv.FormatInt(next, 10)
		}
	}
}

// FallbackSerial composes <REGION>-<YYYYMMDD>-<NNNN> with a random four-digit
// suffix. It is only used when the datastore cannot allocate a serial and
// may collide under concurrent submissions for the same region and day.
func FallbackSerial(regionCode string, now time.Time) string {
	if regionCode == "" {
		regionCode = DefaultRegionCode
	}
	return fmt.Sprintf("%s-%s-%d", strings.ToUpper(regionCode), now.UTC().Format("20060102"), 1000+rand.IntN(9000))
}
