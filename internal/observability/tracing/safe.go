package tracing

import (
	"errors"

	"go.opentelemetry.io/otel/attribute"
)

var allowedSpanKeys = map[attribute.Key]struct{}{
	"http.method":             {},
	"http.route":              {},
	"http.status_code":        {},
	"http.server_duration_ms": {},
	"request_id":              {},
	"quota.tier":              {},
	"quota.feature":           {},
	"quota.allowed":           {},
}

// SafeAttributes keeps span attributes to a known set so user ids and
// payloads never reach the exporter.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedSpanKeys[attr.Key]; ok {
			out = append(out, attr)
		}
	}
	return out
}

// SafeError replaces an error with a message-free copy of its class.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	var classified interface{ ErrorType() string }
	if errors.As(err, &classified) {
		return errors.New(classified.ErrorType())
	}
	return errors.New("internal_error")
}
