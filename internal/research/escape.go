package research

import "strings"

// escaper rewrites the characters that break a query when it is embedded in
// a command argument. Replacement is a single pass, so the backslash rule
// never re-escapes output from the other rules.
var escaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// EscapeQuery returns text with backslashes, double quotes, newlines,
// carriage returns, and tabs escaped for safe transport to the job command.
func EscapeQuery(text string) string {
	return escaper.Replace(text)
}
