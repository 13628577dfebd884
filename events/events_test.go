package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueKeepsOrderAndNeverBlocks(t *testing.T) {
	q := NewQueue[int]()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			q.Push(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Push blocked without a consumer")
	}
	q.Close()
	got := []int{}
	for v := range q.C() {
		got = append(got, v)
	}
	require.Len(t, got, 1000)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestQueuePushAfterCloseDropped(t *testing.T) {
	q := NewQueue[string]()
	q.Push("a")
	q.Close()
	q.Push("b")
	got := []string{}
	for v := range q.C() {
		got = append(got, v)
	}
	assert.Equal(t, []string{"a"}, got)
}

func TestBroadcasterFansOut(t *testing.T) {
	b := NewBroadcaster[int]()
	c1, cancel1 := b.Subscribe()
	c2, cancel2 := b.Subscribe()
	defer cancel2()
	assert.Equal(t, 2, b.Subscribers())
	b.Publish(7)
	assert.Equal(t, 7, <-c1)
	assert.Equal(t, 7, <-c2)
	cancel1()
	cancel1()
	assert.Equal(t, 1, b.Subscribers())
	b.Publish(8)
	assert.Equal(t, 8, <-c2)
}
