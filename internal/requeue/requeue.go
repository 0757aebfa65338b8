// Package requeue computes the jittered backoff windows shared by the Eip
// and Pod reconcilers: a short window after an error, a long one after a
// successful apply so drift against the cloud is still detected.
package requeue

import (
	"math/rand"
	"time"
)

// OnError returns a jittered duration in [4s, 8s), spread so that many
// objects failing at once don't all retry in lockstep.
func OnError() time.Duration {
	return jitter(4*time.Second, 8*time.Second)
}

// SteadyState returns a jittered duration in [240s, 360s), used to requeue
// an Eip or Pod that reconciled successfully and has nothing left to do
// until its cloud-side state might have drifted.
func SteadyState() time.Duration {
	return jitter(240*time.Second, 360*time.Second)
}

func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
