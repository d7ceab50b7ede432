package entity

// ContinuationAware is implemented by entities that can resume a browse.
type ContinuationAware interface {
	ContinuationToken() string
}

// Continuation is one page of browse results.
//
// It is a plain named slice so select statements can collect rows into it
// directly, like any other slice destination.
type Continuation[T ContinuationAware] []T

// NextContinuationToken returns the token to resume after the last element,
// or "" when the page is empty.
func (c Continuation[T]) NextContinuationToken() string {
	if len(c) == 0 {
		return ""
	}
	return c[len(c)-1].ContinuationToken()
}
