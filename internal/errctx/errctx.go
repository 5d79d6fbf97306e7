// Package errctx carries the causal chain of buses a message has flowed
// through, so a panic or fatal error can be reported with enough breadcrumbs
// to find the originating call without a stack trace across goroutines.
package errctx

// ContextType names the bus that handled a message and the variant kind it
// carried at that hop.
type ContextType struct {
	Bus  string // "app", "screen", "pty", "plugin", "ipc_server"
	Kind string // e.g. "NewPane", "SpawnTerminal"
}

// Capacity bounds how many hops an ErrorContext remembers. A message caught
// in a forwarding loop drops its oldest hops rather than growing without
// bound.
const Capacity = 16

// ErrorContext is a fixed-capacity ordered list of ContextType entries.
// The zero value is ready to use.
type ErrorContext struct {
	entries []ContextType
}

// AddCall appends a hop, evicting the oldest entry once Capacity is reached.
func (e *ErrorContext) AddCall(bus, kind string) {
	e.entries = append(e.entries, ContextType{Bus: bus, Kind: kind})
	if len(e.entries) > Capacity {
		e.entries = e.entries[len(e.entries)-Capacity:]
	}
}

// Entries returns the recorded hops, oldest first. The returned slice must
// not be mutated by the caller.
func (e *ErrorContext) Entries() []ContextType {
	return e.entries
}

// Clone returns an independent copy, safe to hand to a new goroutine.
func (e ErrorContext) Clone() ErrorContext {
	out := ErrorContext{entries: make([]ContextType, len(e.entries))}
	copy(out.entries, e.entries)
	return out
}

// String renders the chain as "app:GetState -> screen:Render -> ..." for log
// lines and panic reports.
func (e ErrorContext) String() string {
	if len(e.entries) == 0 {
		return "<empty>"
	}
	out := make([]byte, 0, 32*len(e.entries))
	for i, ent := range e.entries {
		if i > 0 {
			out = append(out, " -> "...)
		}
		out = append(out, ent.Bus...)
		out = append(out, ':')
		out = append(out, ent.Kind...)
	}
	return string(out)
}
