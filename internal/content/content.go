// Package content cleans user-supplied message bodies before they are stored.
package content

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

var policy = bluemonday.UGCPolicy()

// Sanitize strips markup the user-generated-content policy does not allow.
// Input that only differs from the policy output by entity escaping is
// returned byte for byte; escaping belongs to whatever renders the body.
func Sanitize(input string) string {
	out := policy.Sanitize(input)
	if out == input || html.UnescapeString(out) == input {
		return input
	}
	return out
}
