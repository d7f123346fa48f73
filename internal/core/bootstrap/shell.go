package bootstrap

import "strings"

// ShellQuote quotes s as a single POSIX shell word: the whole string goes in
// single quotes, and each embedded single quote is written as a
// backslash-escaped quote between two quoted runs.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ShellJoin quotes every argument and joins them with spaces.
func ShellJoin(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = ShellQuote(a)
	}
	return strings.Join(quoted, " ")
}
