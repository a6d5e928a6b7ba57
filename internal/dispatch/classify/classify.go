// Package classify maps publishing API error messages to failure categories.
package classify

import "strings"

// Category is the kind of failure an action produced.
type Category string

const (
	InvalidToken Category = "invalid_token"
	RateLimit    Category = "rate_limit"
	Permissions  Category = "permissions"
	Spam         Category = "spam"
	Other        Category = "other"
	NetworkError Category = "network_error" // no response obtained, never text matched
)

// IsPermanent reports whether the category removes the credential for good.
func (c Category) IsPermanent() bool {
	return c == InvalidToken
}

type rule struct {
	patterns []string
	category Category
}

// Evaluated top to bottom, first match wins. The order is observable for
// messages that match several rules and must not change.
var rules = []rule{
	{patterns: []string{"expired", "invalid", "session"}, category: InvalidToken},
	{patterns: []string{"rate limit"}, category: RateLimit},
	{patterns: []string{"permissions"}, category: Permissions},
	{patterns: []string{"spam"}, category: Spam},
}

// Classify returns the category for an error message.
func Classify(message string) Category {
	lower := strings.ToLower(message)
	for _, r := range rules {
		for _, p := range r.patterns {
			if strings.Contains(lower, p) {
				return r.category
			}
		}
	}
	return Other
}
