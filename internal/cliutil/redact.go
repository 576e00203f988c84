package cliutil

import "regexp"

const redactedPlaceholder = "[redacted]"

// secretAssignment matches KEY=value and KEY: value pairs whose key names a
// credential, such as DB_PASSWORD=hunter2 or GITHUB_TOKEN: abc. Quoted
// values are consumed with their quotes.
var secretAssignment = regexp.MustCompile(`(?i)\b([A-Z0-9_]*(?:PASSWORD|PASSWD|SECRET|TOKEN|API_?KEY|ACCESS_KEY(?:_ID)?|CREDENTIALS?))(\s*[:=]\s*)("[^"]*"|'[^']*'|[^\s"']+)`)

// RedactSecrets masks the values of credential assignments in s. Command
// lines commonly carry them as environment overrides.
func RedactSecrets(s string) string {
	if s == "" {
		return s
	}
	return secretAssignment.ReplaceAllString(s, "${1}${2}"+redactedPlaceholder)
}
