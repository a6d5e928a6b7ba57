package domain

// PostResult is the outcome of one publish attempt against the publishing API.
type PostResult struct {
	OK           bool
	PostID       string
	ErrorMessage string
	ErrorCode    int
	// Transport is set when no response was obtained at all.
	Transport bool
}
