package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sriram-PR/proceedings-scraper/pkg/utils"
)

// NoneType is used wherever a collection without a type label needs a name
const NoneType = "None"

// Record is a document persisted by the keyed store.
// KeyFields names the JSON fields forming the unique key; KeyValues returns their values in the same order.
type Record interface {
	KeyFields() []string
	KeyValues() []string
	Validate() error
}

// Timestamps are stamped by the store on every write. CreatedAt never changes after insert.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	LastRun   int64     `json:"last_run,omitempty"` // Ordinal of the pipeline run that last wrote the record
}

// CollectionRecord is one card on a top-level listing page
type CollectionRecord struct {
	Title string  `json:"title"`
	Type  *string `json:"type"` // nil when the card has no type label
	URL   string  `json:"url"`
	Timestamps
}

func (r CollectionRecord) KeyFields() []string { return []string{"title"} }
func (r CollectionRecord) KeyValues() []string { return []string{r.Title} }

// Validate checks required fields before a write
func (r CollectionRecord) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: collection record has no title", utils.ErrInvalidRecord)
	}
	if r.URL == "" {
		return fmt.Errorf("%w: collection record '%s' has no url", utils.ErrInvalidRecord, r.Title)
	}
	return nil
}

// TypeName returns the type label, or NoneType when there is none
func (r CollectionRecord) TypeName() string {
	if r.Type == nil || *r.Type == "" {
		return NoneType
	}
	return *r.Type
}

// SubCollectionRecord is one card on a collection page
type SubCollectionRecord struct {
	Title       string `json:"title"`
	ParentTitle string `json:"parent_title"`
	URL         string `json:"url"`
	Timestamps
}

func (r SubCollectionRecord) KeyFields() []string { return []string{"title"} }
func (r SubCollectionRecord) KeyValues() []string { return []string{r.Title} }

func (r SubCollectionRecord) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: sub-collection record has no title", utils.ErrInvalidRecord)
	}
	if r.ParentTitle == "" {
		return fmt.Errorf("%w: sub-collection record '%s' has no parent_title", utils.ErrInvalidRecord, r.Title)
	}
	if r.URL == "" {
		return fmt.Errorf("%w: sub-collection record '%s' has no url", utils.ErrInvalidRecord, r.Title)
	}
	return nil
}

// DetailRecord holds what was read from a leaf page. Its title equals the sub-collection title.
type DetailRecord struct {
	Title     string              `json:"title"`
	Artifacts map[string][]string `json:"artifacts"` // kind -> ordered artifact URLs
	Abstract  string              `json:"abstract"`
	Timestamps
}

func (r DetailRecord) KeyFields() []string { return []string{"title"} }
func (r DetailRecord) KeyValues() []string { return []string{r.Title} }

func (r DetailRecord) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: detail record has no title", utils.ErrInvalidRecord)
	}
	for kind, urls := range r.Artifacts {
		if kind == "" {
			return fmt.Errorf("%w: detail record '%s' has an artifact group without a kind", utils.ErrInvalidRecord, r.Title)
		}
		for _, u := range urls {
			if u == "" {
				return fmt.Errorf("%w: detail record '%s' has an empty %s url", utils.ErrInvalidRecord, r.Title, kind)
			}
		}
	}
	return nil
}

// DownloadRecord marks every artifact of one kind for one title as stored on disk
type DownloadRecord struct {
	Title string `json:"title"`
	Kind  string `json:"kind"`
	Count int    `json:"count"`          // Number of files in the group
	Dir   string `json:"dir,omitempty"` // Destination directory, relative to the output base
	Timestamps
}

func (r DownloadRecord) KeyFields() []string { return []string{"title", "kind"} }
func (r DownloadRecord) KeyValues() []string { return []string{r.Title, r.Kind} }

func (r DownloadRecord) Validate() error {
	if r.Title == "" || r.Kind == "" {
		return fmt.Errorf("%w: download record needs title and kind (got %q, %q)", utils.ErrInvalidRecord, r.Title, r.Kind)
	}
	return nil
}

// SequenceCounter is a named monotonically increasing counter
type SequenceCounter struct {
	Name  string `json:"name" bson:"_id"`
	Value int64  `json:"sequence_value" bson:"sequence_value"`
}

// DownloadTask is one artifact to fetch and where to put it
type DownloadTask struct {
	Title string
	Kind  string
	URL   string
	Path  string // Absolute destination file path
	Index int    // Position within the (title, kind) group
}
