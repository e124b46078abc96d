package cohort

// Event is a UI action dispatched into a Coordinator.
type Event interface {
	event() string
}

// Mount is sent once when the browser view is first shown.
type Mount struct{}

// ScrollNearBottom requests the next bulk page.
type ScrollNearBottom struct{}

// SubmitFilter applies the given criteria. A nil or empty set, or one whose
// criteria are all invalid, falls back to the bulk view.
type SubmitFilter struct {
	Criteria *Criteria
}

// ClearFilter returns to the bulk view.
type ClearFilter struct{}

// SubmitSearch runs a free-text search. Blank terms are ignored.
type SubmitSearch struct {
	Term string
}

// ClearSearch returns to the bulk view.
type ClearSearch struct{}

// UploadSucceeded is sent after a file upload completed. Message is the
// server's confirmation, if any.
type UploadSucceeded struct {
	Message string
}

func (Mount) event() string            { return "mount" }
func (ScrollNearBottom) event() string { return "scroll" }
func (SubmitFilter) event() string     { return "submit_filter" }
func (ClearFilter) event() string      { return "clear_filter" }
func (SubmitSearch) event() string     { return "submit_search" }
func (ClearSearch) event() string      { return "clear_search" }
func (UploadSucceeded) event() string  { return "upload_succeeded" }

// EventName returns the name used for an event in logs.
func EventName(e Event) string {
	if e == nil {
		return ""
	}
	return e.event()
}
