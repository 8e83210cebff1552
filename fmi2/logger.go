package fmi2

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log categories reported to the host.
const (
	CategoryEvents  = "logEvents"
	CategoryWarning = "logStatusWarning"
	CategoryDiscard = "logStatusDiscard"
	CategoryError   = "logStatusError"
	CategoryFatal   = "logStatusFatal"
	CategoryAll     = "logAll"
)

// Categories lists the log categories an instance accepts.
var Categories = []string{CategoryEvents, CategoryWarning, CategoryDiscard, CategoryError, CategoryFatal, CategoryAll}

// LogFunc receives log messages for the host logger callback.
type LogFunc func(instance string, status Status, category, message string)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the package logger. It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

func SetLogger(l *zap.Logger) {
	logger = l
}

// callbackCore is a zapcore.Core that forwards entries to a LogFunc while
// logging is on for the entry's category.
type callbackCore struct {
	fn       LogFunc
	gate     *gate
	instance string
	fields   []zapcore.Field
}

// gate holds the debug logging state shared by a core and its children.
type gate struct {
	categories map[string]bool
	mu         sync.RWMutex
	on         bool
}

func (g *gate) set(on bool, categories []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.on = on
	g.categories = make(map[string]bool, len(categories))
	for _, c := range categories {
		g.categories[c] = true
	}
}

// allows reports whether an entry at l is forwarded. Errors are always
// forwarded; other entries only while debug logging is on for their
// category.
func (g *gate) allows(l zapcore.Level) bool {
	if l >= zapcore.ErrorLevel {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.on {
		return false
	}
	// no categories selected means all categories
	return len(g.categories) == 0 || g.categories[categoryOf(l)] || g.categories[CategoryAll]
}

func newCallbackCore(fn LogFunc, instance string, g *gate) *callbackCore {
	return &callbackCore{fn: fn, gate: g, instance: instance}
}

func (c *callbackCore) Enabled(zapcore.Level) bool {
	return c.fn != nil
}

func (c *callbackCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

func (c *callbackCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.fn != nil && c.gate.allows(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *callbackCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	c.fn(c.instance, statusOf(ent.Level), categoryOf(ent.Level), format(ent.Message, enc.Fields))
	return nil
}

func (c *callbackCore) Sync() error { return nil }

func statusOf(l zapcore.Level) Status {
	switch {
	case l >= zapcore.DPanicLevel:
		return Fatal
	case l == zapcore.ErrorLevel:
		return Error
	case l == zapcore.WarnLevel:
		return Warning
	}
	return OK
}

func categoryOf(l zapcore.Level) string {
	switch {
	case l >= zapcore.DPanicLevel:
		return CategoryFatal
	case l == zapcore.ErrorLevel:
		return CategoryError
	case l == zapcore.WarnLevel:
		return CategoryWarning
	}
	return CategoryEvents
}

// format renders a message followed by its fields as key=value pairs in
// key order.
func format(msg string, fields map[string]any) string {
	if len(fields) == 0 {
		return msg
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "instance" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(msg)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		fmt.Fprint(&b, fields[k])
	}
	return b.String()
}
