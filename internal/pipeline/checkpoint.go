package pipeline

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/regscope/regscope/internal/errors"
	"github.com/regscope/regscope/internal/objstore"
)

// Checkpoint statuses.
const (
	statusInProgress = "in_progress"
)

// checkpoint is a per-family resumption marker. It advances
// monotonically after each fully ingested unit and is deleted when the
// family completes, so a fresh run starts from the beginning.
type checkpoint interface {
	lastUnit() string
	chunkCount() int
	advance(unit string, chunks int, ts time.Time)
}

// FederalCheckpoint marks progress through one CFR title's parts.
type FederalCheckpoint struct {
	TitleNumber       int       `json:"title_number"`
	LastProcessedPart string    `json:"last_processed_part"`
	ChunksProcessed   int       `json:"chunks_processed"`
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	Error             string    `json:"error,omitempty"`
}

func (c *FederalCheckpoint) lastUnit() string { return c.LastProcessedPart }
func (c *FederalCheckpoint) chunkCount() int  { return c.ChunksProcessed }
func (c *FederalCheckpoint) advance(unit string, chunks int, ts time.Time) {
	c.LastProcessedPart = unit
	c.ChunksProcessed += chunks
	c.Status = statusInProgress
	c.Timestamp = ts
}

// StatuteCheckpoint marks progress through the statute codes.
type StatuteCheckpoint struct {
	LastProcessedCode string    `json:"last_processed_code"`
	ChunksProcessed   int       `json:"chunks_processed"`
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	Error             string    `json:"error,omitempty"`
}

func (c *StatuteCheckpoint) lastUnit() string { return c.LastProcessedCode }
func (c *StatuteCheckpoint) chunkCount() int  { return c.ChunksProcessed }
func (c *StatuteCheckpoint) advance(unit string, chunks int, ts time.Time) {
	c.LastProcessedCode = unit
	c.ChunksProcessed += chunks
	c.Status = statusInProgress
	c.Timestamp = ts
}

// TACCheckpoint marks progress through the admin-code titles.
type TACCheckpoint struct {
	LastProcessedTitle string    `json:"last_processed_title"`
	ChunksProcessed    int       `json:"chunks_processed"`
	Status             string    `json:"status"`
	Timestamp          time.Time `json:"timestamp"`
	Error              string    `json:"error,omitempty"`
}

func (c *TACCheckpoint) lastUnit() string { return c.LastProcessedTitle }
func (c *TACCheckpoint) chunkCount() int  { return c.ChunksProcessed }
func (c *TACCheckpoint) advance(unit string, chunks int, ts time.Time) {
	c.LastProcessedTitle = unit
	c.ChunksProcessed += chunks
	c.Status = statusInProgress
	c.Timestamp = ts
}

// RegionCheckpoint marks progress through county or city jurisdictions.
type RegionCheckpoint struct {
	LastProcessedJurisdiction string    `json:"last_processed_jurisdiction"`
	ChunksProcessed           int       `json:"chunks_processed"`
	Status                    string    `json:"status"`
	Timestamp                 time.Time `json:"timestamp"`
	Error                     string    `json:"error,omitempty"`
}

func (c *RegionCheckpoint) lastUnit() string { return c.LastProcessedJurisdiction }
func (c *RegionCheckpoint) chunkCount() int  { return c.ChunksProcessed }
func (c *RegionCheckpoint) advance(unit string, chunks int, ts time.Time) {
	c.LastProcessedJurisdiction = unit
	c.ChunksProcessed += chunks
	c.Status = statusInProgress
	c.Timestamp = ts
}

// loadCheckpoint reads the checkpoint at key into cp. Returns false
// when no checkpoint exists.
func loadCheckpoint(ctx context.Context, store objstore.Store, key string, cp checkpoint) (bool, error) {
	data, _, err := store.Get(ctx, key)
	if stderrors.Is(err, objstore.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, cp); err != nil {
		return false, errors.Wrap(errors.ErrCodeInternal, err)
	}
	return true, nil
}

// saveCheckpoint writes cp at key.
func saveCheckpoint(ctx context.Context, store objstore.Store, key string, cp checkpoint, now time.Time) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	md := objstore.DocumentMetadata("pipeline", "checkpoint", now, nil)
	return store.Put(ctx, key, data, md)
}
