package logging

import (
	"os"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// redactions scrub credentials that tend to leak through joined URLs
// and echoed request headers before a log line reaches disk.
var redactions = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`([?&]key=)[^&\s]+`), `$1[REDACTED]`},
	{regexp.MustCompile(`(?i)(authorization\s*:\s*bearer\s+)\S+`), `$1[REDACTED]`},
	{regexp.MustCompile(`(?i)(x-api-key\s*:\s*)\S+`), `$1[REDACTED]`},
	{regexp.MustCompile(`(?i)("?(?:api_key|apikey|token|secret|password)"?\s*[:=]\s*"?)[^"\s,}]+`), `$1[REDACTED]`},
}

// redactingFormatter wraps another logrus formatter and scrubs known
// secret shapes from the rendered line and from string field values.
type redactingFormatter struct {
	inner logrus.Formatter
}

func (f *redactingFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	clean := entry
	if len(entry.Data) > 0 || entry.Message != "" {
		dup := *entry
		dup.Message = Redact(entry.Message)
		if len(entry.Data) > 0 {
			dup.Data = make(logrus.Fields, len(entry.Data))
			for k, v := range entry.Data {
				if s, ok := v.(string); ok {
					dup.Data[k] = Redact(s)
				} else {
					dup.Data[k] = v
				}
			}
		}
		clean = &dup
	}
	return f.inner.Format(clean)
}

// Redact scrubs credential-shaped substrings from s.
func Redact(s string) string {
	for _, r := range redactions {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// New builds the process logger: JSON output on stdout, level from
// LOG_LEVEL, secrets redacted.
func New() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&redactingFormatter{inner: &logrus.JSONFormatter{}})

	level := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	switch level {
	case "trace":
		l.SetLevel(logrus.TraceLevel)
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		l.SetLevel(logrus.WarnLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}
