package requeue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOnErrorIsWithinJitterWindow(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := OnError()
		assert.GreaterOrEqual(t, d, 4*time.Second)
		assert.Less(t, d, 8*time.Second)
	}
}

func TestSteadyStateIsWithinJitterWindow(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := SteadyState()
		assert.GreaterOrEqual(t, d, 240*time.Second)
		assert.Less(t, d, 360*time.Second)
	}
}
