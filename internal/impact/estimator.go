// Package impact turns a preference edit into immediate, human-readable
// feedback about how future recommendations will shift.
package impact

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/noahchat/noah-client/internal/model/chat"
	"github.com/noahchat/noah-client/internal/model/frame"
	"github.com/noahchat/noah-client/internal/store"
	"github.com/noahchat/noah-client/internal/transport"
)

// Kind of preference being edited.
type Kind string

const (
	KindTopic        Kind = "topic"
	KindContentType  Kind = "content_type"
	KindReadingLevel Kind = "reading_level"
)

// Delta describes one preference edit. It is ephemeral input; the
// authoritative preference record lives server-side.
type Delta struct {
	Kind     Kind    `json:"kind"`
	Item     string  `json:"item"`
	OldValue float64 `json:"oldValue"`
	NewValue float64 `json:"newValue"`
}

// Impact is the heuristic prediction shown to the user. AffectedCount is a
// placeholder drawn from a magnitude-indexed range, not a measured effect;
// replace it with a real measurement from the recommendation engine without
// touching call sites.
type Impact struct {
	Description   string
	AffectedCount int
}

// Magnitude buckets on |new - old|, ordered weakest to strongest.
const (
	magSlight = iota
	magModerate
	magSignificant
)

var magnitudeAdverbs = [...]string{"slightly", "moderately", "significantly"}

// countRanges holds [low, high] per magnitude. Reading-level changes get
// wider ranges; they ripple through every ranked item, not one topic.
var countRanges = map[Kind][3][2]int{
	KindTopic:        {{1, 5}, {5, 15}, {15, 40}},
	KindContentType:  {{1, 5}, {5, 15}, {15, 40}},
	KindReadingLevel: {{5, 15}, {15, 40}, {40, 100}},
}

var kindLabels = map[Kind]string{
	KindTopic:        "topic",
	KindContentType:  "content type",
	KindReadingLevel: "reading level",
}

// Estimator computes impact estimates and echoes them into the
// conversation. The random source is injected so tests can pin it.
type Estimator struct {
	store     *store.SessionStore
	transport transport.Transport
	rng       *rand.Rand
}

// New builds an estimator. A nil rng seeds one from the clock.
func New(st *store.SessionStore, tr transport.Transport, rng *rand.Rand) *Estimator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Estimator{store: st, transport: tr, rng: rng}
}

// Estimate computes the impact of one preference delta. The textual
// magnitude is non-decreasing in |delta|; the count is a heuristic draw.
func (e *Estimator) Estimate(d Delta) Impact {
	mag := magnitudeFor(math.Abs(d.NewValue - d.OldValue))
	r := rangesFor(d.Kind)[mag]
	count := r[0] + e.rng.Intn(r[1]-r[0]+1)
	return Impact{
		Description:   describe(d, mag),
		AffectedCount: count,
	}
}

// Apply estimates the delta, posts a synthesized assistant message into the
// conversation and forwards the delta to the backend for authoritative
// reconciliation. A send failure is logged; the local message still lands.
func (e *Estimator) Apply(d Delta) (Impact, error) {
	imp := e.Estimate(d)

	text := fmt.Sprintf("I've updated your %s preference for %q. %s Roughly %d recommendations will shift.",
		kindLabels[d.Kind], d.Item, imp.Description, imp.AffectedCount)
	if _, err := e.store.AppendAssistantMessage(text, chat.KindText, nil); err != nil {
		return imp, err
	}

	f, err := frame.NewPreferenceUpdate(e.store.Session().UserID, d)
	if err != nil {
		return imp, err
	}
	if err := e.transport.Send(f); err != nil {
		log.Printf("[impact] preference update send failed: %v", err)
	}
	return imp, nil
}

func magnitudeFor(diff float64) int {
	switch {
	case diff > 0.5:
		return magSignificant
	case diff > 0.2:
		return magModerate
	default:
		return magSlight
	}
}

func rangesFor(k Kind) [3][2]int {
	if r, ok := countRanges[k]; ok {
		return r
	}
	return countRanges[KindTopic]
}

func describe(d Delta, mag int) string {
	adverb := magnitudeAdverbs[mag]
	up := d.NewValue >= d.OldValue

	switch d.Kind {
	case KindContentType:
		direction := "more"
		if !up {
			direction = "fewer"
		}
		return fmt.Sprintf("Expect %s %s %s items in your feed.", adverb, direction, d.Item)
	case KindReadingLevel:
		direction := "harder"
		if !up {
			direction = "easier"
		}
		return fmt.Sprintf("Upcoming picks will skew %s %s to read.", adverb, direction)
	default:
		direction := "increase"
		if !up {
			direction = "decrease"
		}
		return fmt.Sprintf("Expect your %s recommendations to %s %s.", d.Item, adverb, direction)
	}
}
