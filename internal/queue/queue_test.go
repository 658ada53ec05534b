package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	job, err := NewJob(TypeNotifyRecord, RecordPayload{RecordID: "7"})
	require.NoError(t, err)
	assert.Len(t, job.ID, 36)
	assert.Equal(t, TypeNotifyRecord, job.Type)

	var p RecordPayload
	require.NoError(t, json.Unmarshal(job.Payload, &p))
	assert.Equal(t, "7", p.RecordID)

	bare, err := NewJob(TypeNotifyAbsent, nil)
	require.NoError(t, err)
	assert.Nil(t, bare.Payload)
	assert.NotEqual(t, job.ID, bare.ID)
}

func TestInMemoryDeliversInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	first, _ := NewJob(TypeNotifyAbsent, nil)
	second, _ := NewJob(TypeNotifyRecord, RecordPayload{RecordID: "1"})
	require.NoError(t, q.Publish(ctx, first))
	require.NoError(t, q.Publish(ctx, second))

	jobs, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, (<-jobs).ID)
	assert.Equal(t, second.ID, (<-jobs).ID)

	cancel()
	select {
	case _, ok := <-jobs:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestInMemoryPublishHonoursContext(t *testing.T) {
	q := NewInMemory(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job, _ := NewJob(TypeNotifyAbsent, nil)
	assert.ErrorIs(t, q.Publish(ctx, job), context.Canceled)
}

func TestEncodeDecode(t *testing.T) {
	job, _ := NewJob(TypeNotifyRecord, RecordPayload{RecordID: "x|y"})
	raw, err := encode(job)
	require.NoError(t, err)

	got, err := decode(raw)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.JSONEq(t, string(job.Payload), string(got.Payload))

	_, err = decode("notify-absent|legacy")
	assert.Error(t, err)
	_, err = decode(`{"id":"1"}`)
	assert.Error(t, err)
}
