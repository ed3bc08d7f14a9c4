package notifications

// Response aggregates messages and errors produced while scheduling a batch
// refresh request.
//
// The zero value is the identity and Combine is an associative merge. Parallel sub-scopes each build their own
// Response and the branches are folded afterwards, so no shared-list locking
// is needed. It is in-memory only, never persisted.
type Response struct {
	Messages []string `json:"messages"`
	Errors   []string `json:"errors"`
}

// AddMessage records a progress message.
func (r *Response) AddMessage(message string) {
	r.Messages = append(r.Messages, message)
}

// AddError records an error. Errors are reported to the caller as data, not as
// a thrown fault, to preserve batch progress.
func (r *Response) AddError(message string) {
	r.Errors = append(r.Errors, message)
}

// HasErrors reports whether any sub-scope recorded an error.
func (r *Response) HasErrors() bool {
	return len(r.Errors) > 0
}

// Combine merges another response into this one and returns the receiver.
// The merge is associative and order-insensitive at the set level; within one
// sub-scope insertion order is preserved.
func (r *Response) Combine(other *Response) *Response {
	if other == nil {
		return r
	}

	r.Messages = append(r.Messages, other.Messages...)
	r.Errors = append(r.Errors, other.Errors...)

	return r
}
