package logger

import (
	"io"
	"regexp"
)

// ContentFields are the log fields that can carry remembered facts. Their
// values are masked whatever the privacy level of the record.
var ContentFields = []string{"topic_text", "topic_summary", "raw_evidence", "query"}

// Redactor redacts sensitive information from logs
type Redactor struct {
	patterns []*regexp.Regexp
	fields   []*regexp.Regexp
}

// NewRedactor creates a new redactor with default patterns. Credentials are
// masked anywhere in a line, memory content only inside ContentFields.
func NewRedactor() *Redactor {
	r := &Redactor{
		patterns: []*regexp.Regexp{
			// API keys
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),

			// Bearer tokens
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),

			// API keys passed as query parameters
			regexp.MustCompile(`api_key=[^\s&"]+`),

			// Passwords
			regexp.MustCompile(`password["\s:=]+[^\s"]+`),
			regexp.MustCompile(`pwd["\s:=]+[^\s"]+`),

			// Auth tokens
			regexp.MustCompile(`token["\s:=]+[a-zA-Z0-9._-]{20,}`),

			// AWS keys
			regexp.MustCompile(`AKIA[0-9A-Z]{16}`),

			// Generic secrets
			regexp.MustCompile(`secret["\s:=]+[^\s"]+`),
		},
	}
	r.RedactFields(ContentFields...)
	return r
}

// RedactFields masks the values of the named JSON fields, whether they hold
// a string or an array of strings.
func (r *Redactor) RedactFields(names ...string) {
	for _, name := range names {
		r.fields = append(r.fields, regexp.MustCompile(
			`("`+regexp.QuoteMeta(name)+`":)(?:"(?:[^"\\]|\\.)*"|\[(?:[^\]"]|"(?:[^"\\]|\\.)*")*\])`,
		))
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	result := s
	for _, field := range r.fields {
		result = field.ReplaceAllString(result, `${1}"[REDACTED]"`)
	}
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

// redactingWriter is an io.Writer that redacts sensitive information
type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (n int, err error) {
	redacted := w.redactor.Redact(string(p))
	if _, err := w.writer.Write([]byte(redacted)); err != nil {
		return 0, err
	}
	return len(p), nil
}
