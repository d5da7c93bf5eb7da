package negotiator

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio/webrtc"
)

// DefaultICETimeout bounds how long the offer waits for ICE gathering.
const DefaultICETimeout = 2 * time.Second

// ICE race outcomes, also used as the trigger metric attribute.
const (
	triggerComplete        = "complete"
	triggerEndOfCandidates = "end_of_candidates"
	triggerTimeout         = "timeout"
	triggerCancelled       = "cancelled"
)

// awaitGathering waits for whichever comes first: the gathering state turning
// complete, the end-of-candidates signal, or timeout. A timeout is not an
// error; the offer then carries the candidates gathered so far.
//
// The race resolves exactly once and both listeners are removed before it
// does. Context cancellation returns the context error.
func awaitGathering(ctx context.Context, pc webrtc.PeerConnection, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultICETimeout
	}

	resolved := make(chan string, 1)
	var once sync.Once
	resolve := func(trigger string) {
		once.Do(func() {
			pc.OnGatheringComplete(nil)
			pc.OnICECandidate(nil)
			resolved <- trigger
		})
	}

	pc.OnGatheringComplete(func() { resolve(triggerComplete) })
	pc.OnICECandidate(func(_ string, final bool) {
		if final {
			resolve(triggerEndOfCandidates)
		}
	})
	// Gathering may have finished before the listeners were in place.
	if pc.GatheringComplete() {
		resolve(triggerComplete)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case trigger := <-resolved:
		return trigger, nil
	case <-timer.C:
		resolve(triggerTimeout)
	case <-ctx.Done():
		resolve(triggerCancelled)
	}

	trigger := <-resolved
	if trigger == triggerCancelled {
		return trigger, ctx.Err()
	}
	return trigger, nil
}
