package progress

import (
	"bytes"
	"testing"

	"github.com/poiesic/docvec/core"
	"github.com/stretchr/testify/assert"
)

func TestTracker_Basic(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewTracker(&buf, 2)
	tracker.Start()

	assert.False(t, tracker.Observe(progressEvent("alice", "a", core.StageEmbedding, 50)))
	assert.False(t, tracker.Observe(progressEvent("alice", "a", core.StageDone, 100)))
	assert.Contains(t, buf.String(), "1/2 documents (50.0%)")

	assert.True(t, tracker.Observe(progressEvent("alice", "b", core.StageFailed, 25)))
	tracker.Finish()

	output := buf.String()
	assert.Contains(t, output, "2/2 documents (100.0%) - 1 failed")
	assert.Contains(t, output, "\n", "finish should print newline")
	assert.Equal(t, 1, tracker.Failed())
}

func TestTracker_IgnoresRepeatsAndSignals(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewTracker(&buf, 2)
	tracker.Start()

	tracker.Observe(progressEvent("alice", "a", core.StageDone, 100))
	tracker.Observe(progressEvent("alice", "a", core.StageDone, 100))
	tracker.Observe(core.ProgressEvent{Type: core.EventCollectionNonEmpty, UserID: "alice"})

	assert.Contains(t, buf.String(), "1/2 documents")
	assert.NotContains(t, buf.String(), "2/2 documents")
}

func TestTracker_NotStarted(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewTracker(&buf, 1)

	assert.False(t, tracker.Observe(progressEvent("alice", "a", core.StageDone, 100)))
	tracker.Finish()
	assert.Empty(t, buf.String())
	assert.Zero(t, tracker.Elapsed())
}

func TestTracker_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewTracker(&buf, 0)
	tracker.Start()
	tracker.Finish()

	assert.Contains(t, buf.String(), "0/0 documents")
}
