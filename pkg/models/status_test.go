package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemState_String(t *testing.T) {
	tests := []struct {
		state ItemState
		want  string
	}{
		{ItemStateUnset, "unset"},
		{ItemStatePending, "pending"},
		{ItemStateFetching, "fetching"},
		{ItemStateExtracting, "extracting"},
		{ItemStatePersisting, "persisting"},
		{ItemStateDone, "done"},
		{ItemStateFailed, "failed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestItemState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to ItemState
		want     bool
	}{
		{ItemStatePending, ItemStateFetching, true},
		{ItemStateFetching, ItemStateExtracting, true},
		{ItemStateFetching, ItemStateFailed, true},
		{ItemStateExtracting, ItemStatePersisting, true},
		{ItemStateExtracting, ItemStateFailed, false},
		{ItemStatePersisting, ItemStateDone, true},
		{ItemStatePersisting, ItemStateFailed, true},
		{ItemStatePending, ItemStateDone, false},
		{ItemStateDone, ItemStatePending, false},
		{ItemStateFailed, ItemStateFetching, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestItemState_IsTerminal(t *testing.T) {
	assert.True(t, ItemStateDone.IsTerminal())
	assert.True(t, ItemStateFailed.IsTerminal())
	assert.False(t, ItemStatePending.IsTerminal())
	assert.False(t, ItemStatePersisting.IsTerminal())
}

func TestDownloadStatus(t *testing.T) {
	assert.Equal(t, "unset", DownloadStatusUnset.String())
	assert.Equal(t, "skipped_file", DownloadStatusSkippedFile.String())
	assert.True(t, DownloadStatusSkippedRecord.IsSkipped())
	assert.True(t, DownloadStatusSkippedFile.IsSkipped())
	assert.False(t, DownloadStatusSuccess.IsSkipped())
	assert.False(t, DownloadStatusFailure.IsSkipped())
}
