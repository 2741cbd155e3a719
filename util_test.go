package geosync

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestCallbackList(t *testing.T) {
	callbacks := NewCallbackList[func() int]()

	one := func() int { return 1 }
	two := func() int { return 2 }

	oneId := callbacks.Add(one)
	twoId := callbacks.Add(two)

	values := []int{}
	for _, callback := range callbacks.Get() {
		values = append(values, callback())
	}
	assert.Equal(t, []int{1, 2}, values)

	callbacks.Remove(oneId)
	values = nil
	for _, callback := range callbacks.Get() {
		values = append(values, callback())
	}
	assert.Equal(t, []int{2}, values)

	// removing twice is safe
	callbacks.Remove(oneId)
	assert.Equal(t, 1, len(callbacks.Get()))

	callbacks.Remove(twoId)
	assert.Equal(t, 0, len(callbacks.Get()))
}

func TestMonitor(t *testing.T) {
	monitor := NewMonitor()

	update := monitor.NotifyChannel()
	select {
	case <-update:
		t.Fatal("notified without notify")
	default:
	}

	monitor.NotifyAll()
	select {
	case <-update:
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}

	// each notify cycle gets a fresh channel
	next := monitor.NotifyChannel()
	assert.Equal(t, false, update == next)
}
