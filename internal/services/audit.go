package services

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yourusername/endpoint-gateway/internal/models"
)

// auditWriteTimeout bounds a single request-log write
const auditWriteTimeout = 5 * time.Second

const redacted = "[REDACTED]"

// sensitiveHeaders never reach the request log
var sensitiveHeaders = map[string]struct{}{
	"x-api-key":           {},
	"authorization":       {},
	"proxy-authorization": {},
	"cookie":              {},
	"set-cookie":          {},
}

// AuditLogger persists one RequestLog per proxied request. Failures are
// logged and never returned.
type AuditLogger struct {
	store RequestLogStore
}

// NewAuditLogger creates an audit logger writing to store
func NewAuditLogger(store RequestLogStore) *AuditLogger {
	return &AuditLogger{store: store}
}

// Record writes entry. The write is detached from ctx cancellation so a caller
// hanging up does not lose the row. Text and JSON fields are sanitised first:
// PostgreSQL rejects NUL and invalid UTF-8 in text and jsonb columns.
func (a *AuditLogger) Record(ctx context.Context, entry *models.RequestLog) {
	sanitizeEntry(entry)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if err := a.store.AppendRequestLog(ctx, entry); err != nil {
		slog.Error("failed to write request log",
			"slug", entry.Slug,
			"status", entry.StatusCode,
			"error", err,
		)
	}
}

// CaptureHeaders serialises request headers with credentials redacted
func CaptureHeaders(h http.Header) json.RawMessage {
	out := make(map[string]string, len(h))
	for name, values := range h {
		lower := strings.ToLower(name)
		if _, ok := sensitiveHeaders[lower]; ok {
			out[lower] = redacted
			continue
		}
		out[lower] = strings.Join(values, ", ")
	}
	return mustJSON(out)
}

// CaptureQuery serialises query parameters; single values are flattened
func CaptureQuery(q url.Values) json.RawMessage {
	out := make(map[string]any, len(q))
	for k, v := range q {
		if len(v) == 1 {
			out[k] = v[0]
		} else {
			out[k] = v
		}
	}
	return mustJSON(out)
}

// CaptureBody returns body as JSON if it is valid JSON, as a JSON string
// otherwise, and as an empty object when there is no body.
func CaptureBody(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return json.RawMessage("{}")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	return mustJSON(string(body))
}

func mustJSON(v any) json.RawMessage {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return json.RawMessage("{}")
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}

// sanitizeEntry makes every caller-controlled field of entry storable
func sanitizeEntry(entry *models.RequestLog) {
	entry.Slug = cleanText(entry.Slug)
	entry.Method = cleanText(entry.Method)
	entry.Path = cleanText(entry.Path)
	entry.IPAddress = cleanText(entry.IPAddress)
	entry.UserAgent = cleanText(entry.UserAgent)

	entry.Headers = cleanJSON(entry.Headers)
	entry.Body = cleanJSON(entry.Body)
	entry.Query = cleanJSON(entry.Query)
	entry.ResponseBody = cleanJSON(entry.ResponseBody)
}

// cleanText replaces invalid UTF-8 and drops NUL characters
func cleanText(s string) string {
	if utf8.ValidString(s) && !strings.ContainsRune(s, 0) {
		return s
	}
	return strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
}

// cleanJSON re-encodes raw with every string and object key passed through
// cleanText. Input that is not valid JSON or not valid UTF-8 is stored as a
// JSON string.
func cleanJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	if !utf8.Valid(raw) || !json.Valid(raw) {
		return mustJSON(cleanText(string(raw)))
	}
	if !bytes.Contains(raw, []byte(`\u`)) {
		return raw
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return mustJSON(cleanText(string(raw)))
	}
	return mustJSON(cleanValue(v))
}

func cleanValue(v any) any {
	switch t := v.(type) {
	case string:
		return cleanText(t)
	case []any:
		for i := range t {
			t[i] = cleanValue(t[i])
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[cleanText(k)] = cleanValue(val)
		}
		return out
	default:
		return v
	}
}
