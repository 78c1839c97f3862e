package orchestration

import "github.com/koscakluka/ema-realtime/core/events"

// Correlation holds the identifiers of the agent turn currently in flight.
// It is what truncate and cancel commands refer to.
type Correlation struct {
	ResponseID   string
	ItemID       string
	ContentIndex *int
}

// Apply returns the correlation after observing event. A new response
// clears every identifier so a later truncation cannot target an older turn.
func (c Correlation) Apply(event events.Inbound) Correlation {
	switch event := event.(type) {
	case events.ResponseCreated:
		return Correlation{ResponseID: event.Response.ID}
	case events.OutputItemAdded:
		c.ItemID = event.Item.ID
		c.fillResponse(event.ResponseID)
	case events.ContentPartAdded:
		c.applyRef(event.ContentRef)
	case events.AudioDelta:
		c.applyRef(event.ContentRef)
	case events.TranscriptDelta:
		c.applyRef(event.ContentRef)
	}
	return c
}

func (c *Correlation) applyRef(ref events.ContentRef) {
	if ref.ItemID != "" {
		c.ItemID = ref.ItemID
	}
	index := ref.ContentIndex
	c.ContentIndex = &index
	c.fillResponse(ref.ResponseID)
}

func (c *Correlation) fillResponse(responseID string) {
	if c.ResponseID == "" {
		c.ResponseID = responseID
	}
}

// ContentIndexOrZero is the content index to truncate, defaulting to the
// first part.
func (c Correlation) ContentIndexOrZero() int {
	if c.ContentIndex == nil {
		return 0
	}
	return *c.ContentIndex
}
