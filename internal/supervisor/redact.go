package supervisor

import "strings"

// Redacted replaces secret argument values in anything that leaves the
// process: logs, events, handles and errors.
const Redacted = "***"

// secretFlags take a credential as their value.
var secretFlags = []string{"--token"}

// RedactArgv returns a copy of argv with the value of every secret flag
// masked, in both "--flag value" and "--flag=value" form.
func RedactArgv(argv []string) []string {
	out := append([]string(nil), argv...)
	for i := 0; i < len(out); i++ {
		for _, f := range secretFlags {
			if strings.HasPrefix(out[i], f+"=") {
				out[i] = f + "=" + Redacted
			} else if out[i] == f && i+1 < len(out) {
				i++
				out[i] = Redacted
				break
			}
		}
	}
	return out
}
