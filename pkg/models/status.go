package models

// ItemState is the progress of one source item through a crawl stage
type ItemState string

const (
	ItemStateUnset      ItemState = ""           // Zero value = unset/unknown
	ItemStatePending    ItemState = "pending"    // Read from the store, not started
	ItemStateFetching   ItemState = "fetching"   // Page request in flight
	ItemStateExtracting ItemState = "extracting" // Parsing the fetched document
	ItemStatePersisting ItemState = "persisting" // Upserting extracted records
	ItemStateDone       ItemState = "done"       // All records written
	ItemStateFailed     ItemState = "failed"     // Fetch or persist failed for this item
)

// String implements fmt.Stringer for logging
func (s ItemState) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsTerminal reports whether no further transition is allowed
func (s ItemState) IsTerminal() bool {
	return s == ItemStateDone || s == ItemStateFailed
}

// CanTransition reports whether moving from s to next is a legal step
func (s ItemState) CanTransition(next ItemState) bool {
	switch s {
	case ItemStatePending:
		return next == ItemStateFetching
	case ItemStateFetching:
		return next == ItemStateExtracting || next == ItemStateFailed
	case ItemStateExtracting:
		return next == ItemStatePersisting
	case ItemStatePersisting:
		return next == ItemStateDone || next == ItemStateFailed
	}
	return false
}

// DownloadStatus is the outcome of one planned artifact
type DownloadStatus string

const (
	DownloadStatusUnset         DownloadStatus = ""
	DownloadStatusPending       DownloadStatus = "pending"        // Queued for a worker
	DownloadStatusSuccess       DownloadStatus = "success"        // Written to disk
	DownloadStatusFailure       DownloadStatus = "failure"        // Fetch or write failed
	DownloadStatusSkippedRecord DownloadStatus = "skipped_record" // Completion marker already stored
	DownloadStatusSkippedFile   DownloadStatus = "skipped_file"   // Destination already on disk
)

// String implements fmt.Stringer for logging
func (s DownloadStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsSkipped returns true for either resume signal
func (s DownloadStatus) IsSkipped() bool {
	return s == DownloadStatusSkippedRecord || s == DownloadStatusSkippedFile
}
