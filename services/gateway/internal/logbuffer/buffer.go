// Package logbuffer keeps a bounded in-process tail of log entries for the
// admin log surface. It plugs into the logger as an extra zapcore core, so
// every line written to stdout is also queryable over HTTP.
package logbuffer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// Entry is one captured log line.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Fields  string    `json:"fields,omitempty"`
}

// Query filters the captured tail.
type Query struct {
	// Level keeps only entries at exactly this level when set ("info",
	// "warn", "error", ...).
	Level string
	// From/To bound the entry time when non-zero; To is inclusive.
	From time.Time
	To   time.Time
	// Page is 1-based; PerPage defaults to 50.
	Page    int
	PerPage int
}

// Page is one page of query results.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"per_page"`
}

// Buffer is a fixed-capacity ring of log entries. It implements
// zapcore.Core.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	start   int
	count   int

	level zapcore.LevelEnabler
	// fields accumulated through With.
	context []zapcore.Field
	// shared points at the buffer owning the ring when this core is a With
	// clone; nil on the original.
	shared *Buffer
}

var _ zapcore.Core = (*Buffer)(nil)

// New creates a buffer holding the most recent capacity entries at or above
// the given level.
func New(capacity int, level zapcore.LevelEnabler) *Buffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Buffer{
		entries: make([]Entry, capacity),
		level:   level,
	}
}

// Enabled implements zapcore.Core.
func (b *Buffer) Enabled(level zapcore.Level) bool {
	return b.level.Enabled(level)
}

// With implements zapcore.Core.
func (b *Buffer) With(fields []zapcore.Field) zapcore.Core {
	clone := &Buffer{
		level:   b.level,
		context: append(append([]zapcore.Field(nil), b.context...), fields...),
	}
	// Clones share the ring with the original.
	clone.shared = b.shared
	if clone.shared == nil {
		clone.shared = b
	}
	return clone
}

// Check implements zapcore.Core.
func (b *Buffer) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if b.Enabled(entry.Level) {
		return checked.AddCore(entry, b)
	}
	return checked
}

// Write implements zapcore.Core.
func (b *Buffer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	owner := b.owner()

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range b.context {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	var sb strings.Builder
	for k, v := range enc.Fields {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%s=%v", k, v)
	}

	owner.append(Entry{
		Time:    entry.Time,
		Level:   entry.Level.String(),
		Message: entry.Message,
		Fields:  sb.String(),
	})
	return nil
}

// Sync implements zapcore.Core.
func (b *Buffer) Sync() error { return nil }

func (b *Buffer) owner() *Buffer {
	if b.shared != nil {
		return b.shared
	}
	return b
}

func (b *Buffer) append(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := (b.start + b.count) % len(b.entries)
	if b.count == len(b.entries) {
		// Full: overwrite the oldest.
		b.entries[b.start] = e
		b.start = (b.start + 1) % len(b.entries)
	} else {
		b.entries[idx] = e
		b.count++
	}
}

// Query returns a page of entries matching q, newest first.
func (b *Buffer) Query(q Query) Page {
	owner := b.owner()
	owner.mu.RLock()
	matched := make([]Entry, 0, owner.count)
	for i := owner.count - 1; i >= 0; i-- {
		e := owner.entries[(owner.start+i)%len(owner.entries)]
		if q.Level != "" && e.Level != q.Level {
			continue
		}
		if !q.From.IsZero() && e.Time.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && e.Time.After(q.To) {
			continue
		}
		matched = append(matched, e)
	}
	owner.mu.RUnlock()

	perPage := q.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}

	total := len(matched)
	startIdx := (page - 1) * perPage
	if startIdx > total {
		startIdx = total
	}
	endIdx := startIdx + perPage
	if endIdx > total {
		endIdx = total
	}

	return Page{
		Entries: matched[startIdx:endIdx],
		Total:   total,
		Page:    page,
		PerPage: perPage,
	}
}

// Clear drops every captured entry.
func (b *Buffer) Clear() {
	owner := b.owner()
	owner.mu.Lock()
	defer owner.mu.Unlock()
	owner.start = 0
	owner.count = 0
}

// Render writes the matching entries as plain text for download, oldest
// first.
func (b *Buffer) Render(q Query) string {
	q.Page = 1
	q.PerPage = len(b.owner().entries)
	page := b.Query(q)

	var sb strings.Builder
	for i := len(page.Entries) - 1; i >= 0; i-- {
		e := page.Entries[i]
		fmt.Fprintf(&sb, "%s\t%s\t%s", e.Time.Format(time.RFC3339), strings.ToUpper(e.Level), e.Message)
		if e.Fields != "" {
			fmt.Fprintf(&sb, "\t%s", e.Fields)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
