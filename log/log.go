// Package log routes every envshadow component logger through a single swappable slog.Handler.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
)

const (
	ComponentKey = "component"
	ErrorKey     = "error"
)

// Format selects the slog.Handler implementation built by Setup.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Error returns a slog.Attr for the provided error. The key will be ErrorKey.
func Error(e error) slog.Attr {
	return slog.Any(ErrorKey, e)
}

// indirectHandler forwards to whichever slog.Handler was last passed to To. Loggers created before To is called
// still pick up the new handler.
type indirectHandler struct {
	h atomic.Pointer[slog.Handler]
}

func (i *indirectHandler) resolve() slog.Handler {
	h := i.h.Load()
	if h == nil {
		return nil
	}

	return *h
}

func (i *indirectHandler) Enabled(ctx context.Context, level slog.Level) bool {
	h := i.resolve()
	if h == nil {
		return false
	}

	return h.Enabled(ctx, level)
}

func (i *indirectHandler) Handle(ctx context.Context, record slog.Record) error {
	h := i.resolve()
	if h == nil {
		return nil
	}

	return h.Handle(ctx, record)
}

func (i *indirectHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &derivedHandler{parent: i, attrs: attrs}
}

func (i *indirectHandler) WithGroup(name string) slog.Handler {
	return &derivedHandler{parent: i, group: name}
}

// derivedHandler remembers attrs and groups added to a component logger and applies them lazily, so the result of
// logger.With keeps following the sink.
type derivedHandler struct {
	parent slog.Handler
	attrs  []slog.Attr
	group  string
}

func (d *derivedHandler) apply(h slog.Handler) slog.Handler {
	if d.group != "" {
		return h.WithGroup(d.group)
	}

	return h.WithAttrs(d.attrs)
}

func (d *derivedHandler) target() slog.Handler {
	switch p := d.parent.(type) {
	case *indirectHandler:
		h := p.resolve()
		if h == nil {
			return nil
		}
		return d.apply(h)
	case *derivedHandler:
		h := p.target()
		if h == nil {
			return nil
		}
		return d.apply(h)
	default:
		return nil
	}
}

func (d *derivedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	h := d.target()
	return h != nil && h.Enabled(ctx, level)
}

func (d *derivedHandler) Handle(ctx context.Context, record slog.Record) error {
	h := d.target()
	if h == nil {
		return nil
	}

	return h.Handle(ctx, record)
}

func (d *derivedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &derivedHandler{parent: d, attrs: attrs}
}

func (d *derivedHandler) WithGroup(name string) slog.Handler {
	return &derivedHandler{parent: d, group: name}
}

var _ slog.Handler = &indirectHandler{}
var _ slog.Handler = &derivedHandler{}

var (
	sink = &indirectHandler{}
)

// To updates all slog.Logger objects used internally by envshadow to write logs to the provided slog.Handler. By
// default, log values will be discarded unless To is called at least once with a non-discarding slog.Handler.
func To(h slog.Handler) {
	sink.h.Store(&h)
}

// ForComponent constructs a slog.Logger for the specified component (which is stored in an attribute with the key
// ComponentKey).
func ForComponent(component string) *slog.Logger {
	return slog.New(sink).With(slog.String(ComponentKey, component))
}

// ParseLevel converts a level name (debug, info, warn, error) to a slog.Level. The empty string is info.
func ParseLevel(level string) (slog.Level, error) {
	if level == "" {
		return slog.LevelInfo, nil
	}

	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log: parse level %q: %w", level, err)
	}

	return l, nil
}

// NewHandler builds a text or json slog.Handler writing to w at the specified level.
func NewHandler(w io.Writer, level slog.Level, format Format) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "", FormatText:
		return slog.NewTextHandler(w, opts), nil
	case FormatJSON:
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("log: unknown format %q", format)
	}
}

// Setup parses level and format and installs the resulting handler with To.
func Setup(w io.Writer, level string, format Format) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}

	h, err := NewHandler(w, l, format)
	if err != nil {
		return err
	}

	To(h)
	return nil
}
