// Package criteria sanitizes free text before it is placed inside a
// LIKE predicate built by a stored procedure.
package criteria

import "strings"

var likeEscaper = strings.NewReplacer(
	"'", "''",
	"%", "[%]",
	"_", "[_]",
	"?", "[?]",
)

// SafeInputParam escapes quotes and LIKE wildcards in input.
func SafeInputParam(input string) string {
	if input == "" {
		return input
	}
	return likeEscaper.Replace(input)
}
