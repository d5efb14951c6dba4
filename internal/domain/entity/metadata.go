package entity

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	MetadataKeyRetryCount  = "retry_count"
	MetadataKeyNextRetryAt = "next_retry_at"
)

// TimestampLayout is the ISO-8601 layout written into metadata (UTC, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Metadata is the free-form key/value map stored with subscriptions and transactions.
// Only the dunning keys are interpreted; every other key is passed through untouched.
type Metadata map[string]any

// DecodeMetadata decodes a JSON object keeping numbers as json.Number.
// Empty input and JSON null decode to an empty map.
func DecodeMetadata(raw []byte) (Metadata, error) {
	m := Metadata{}
	if len(raw) == 0 {
		return m, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		m = Metadata{}
	}
	return m, nil
}

// Clone returns a shallow copy; a nil map clones to an empty one.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MaxRetryCount is the value out-of-range retry_count entries saturate to.
const MaxRetryCount = math.MaxInt32

// RetryCount reads retry_count, defaulting to 0 when absent, non-numeric or negative.
// Values too large for an int saturate to MaxRetryCount.
func (m Metadata) RetryCount() int {
	v, ok := m[MetadataKeyRetryCount]
	if !ok || v == nil {
		return 0
	}

	switch x := v.(type) {
	case int:
		return clampRetryCount(int64(x))
	case int32:
		return clampRetryCount(int64(x))
	case int64:
		return clampRetryCount(x)
	case float64:
		return saturateRetryCount(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return clampRetryCount(i)
		}
		if f, err := strconv.ParseFloat(x.String(), 64); err == nil || errors.Is(err, strconv.ErrRange) {
			return saturateRetryCount(f)
		}
	case string:
		s := strings.TrimSpace(x)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return clampRetryCount(i)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil || errors.Is(err, strconv.ErrRange) {
			return saturateRetryCount(f)
		}
	}
	return 0
}

func clampRetryCount(n int64) int {
	switch {
	case n < 0:
		return 0
	case n > MaxRetryCount:
		return MaxRetryCount
	}
	return int(n)
}

// saturateRetryCount bounds f before truncating so huge values never wrap.
// ParseFloat reports overflow as ±Inf with ErrRange, which lands on either bound.
func saturateRetryCount(f float64) int {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f >= MaxRetryCount:
		return MaxRetryCount
	}
	return int(f)
}

// NextRetryAt reads next_retry_at; null, absent or unparseable values yield nil.
func (m Metadata) NextRetryAt() *time.Time {
	v, ok := m[MetadataKeyNextRetryAt]
	if !ok || v == nil {
		return nil
	}

	switch x := v.(type) {
	case time.Time:
		return &x
	case *time.Time:
		return x
	case string:
		if x == "" {
			return nil
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				return &t
			}
		}
	}
	return nil
}

// timestampLayouts are tried in order when reading next_retry_at. Besides ISO-8601,
// Postgres renders timestamptz as text like "2026-04-16 09:00:00+00".
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z07",
}

// Dunning returns the typed dunning view of the metadata
func (m Metadata) Dunning() DunningState {
	return DunningState{
		RetryCount:  m.RetryCount(),
		NextRetryAt: m.NextRetryAt(),
	}
}

// WithDunning returns a copy of the metadata with the dunning keys replaced.
func (m Metadata) WithDunning(state DunningState) Metadata {
	out := m.Clone()
	for k, v := range DunningPatch(state) {
		out[k] = v
	}
	return out
}

// Merge returns a copy of the metadata with the patch keys applied on top.
func (m Metadata) Merge(patch Metadata) Metadata {
	out := m.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// RetryCountGuard captures the stored retry_count so a write can be made
// conditional on nobody else having advanced it in between.
func (m Metadata) RetryCountGuard() RetryCountGuard {
	v, ok := m[MetadataKeyRetryCount]
	return RetryCountGuard{Present: ok && v != nil, Raw: v}
}

// DunningPatch builds the metadata keys written for a dunning step.
func DunningPatch(state DunningState) Metadata {
	patch := Metadata{
		MetadataKeyRetryCount:  state.RetryCount,
		MetadataKeyNextRetryAt: nil,
	}
	if state.NextRetryAt != nil {
		patch[MetadataKeyNextRetryAt] = FormatTimestamp(*state.NextRetryAt)
	}
	return patch
}

// FormatTimestamp formats t as an ISO-8601 UTC string with millisecond precision
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// RetryCountGuard is the expected raw retry_count value for a conditional update.
type RetryCountGuard struct {
	Present bool
	Raw     any
}

// JSON returns the expected value encoded as JSON, or nil when the key is expected absent.
func (g RetryCountGuard) JSON() []byte {
	if !g.Present {
		return nil
	}
	b, err := json.Marshal(g.Raw)
	if err != nil {
		return nil
	}
	return b
}

// Text returns the expected value the way Postgres renders it with ->>.
func (g RetryCountGuard) Text() (string, bool) {
	if !g.Present {
		return "", false
	}
	switch x := g.Raw.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	}
	b := g.JSON()
	if b == nil {
		return "", false
	}
	return string(b), true
}
