package environment

import "strings"

const mask = "***"

// Redactor rewrites secret values out of log lines before they reach
// the status reporter. Matching is by value substring, applied at the
// logging boundary rather than relying on any platform masking.
type Redactor struct {
	replacer *strings.Replacer
}

// NewRedactor builds a redactor for the given secret values. Empty
// values are ignored so the replacer never matches everything.
func NewRedactor(values []string) *Redactor {
	pairs := make([]string, 0, len(values)*2)

	for _, v := range values {
		if v == "" {
			continue
		}

		pairs = append(pairs, v, mask)
	}

	return &Redactor{replacer: strings.NewReplacer(pairs...)}
}

// Redact returns the line with every secret value masked.
func (r *Redactor) Redact(line string) string {
	return r.replacer.Replace(line)
}
