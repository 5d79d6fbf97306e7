// Package wire implements the compact self-describing binary frame carried
// over the cross-process ring buffer: an ErrorContext paired with whichever
// ServerInstruction or ClientInstruction crossed the boundary. CBOR keeps
// the frame self-describing without hand-rolled tag bytes.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"mosaic/internal/errctx"
)

// ContextHop mirrors errctx.ContextType in a form CBOR can (de)serialize
// without importing the bus package's generics.
type ContextHop struct {
	Bus  string `cbor:"b"`
	Kind string `cbor:"k"`
}

// Frame is the envelope written to the ring buffer: a context chain plus an
// opaque, already-encoded instruction payload and the discriminant naming
// which instruction type it decodes as.
type Frame struct {
	Context []ContextHop `cbor:"ctx"`
	Kind    string       `cbor:"kind"`
	Payload cbor.RawMessage `cbor:"payload"`
}

var encMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: building canonical encode mode: %v", err))
	}
	return m
}()

// Encode serializes a Frame to its CBOR wire form.
func Encode(f Frame) ([]byte, error) {
	b, err := encMode.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("wire: encode frame: %w", err)
	}
	return b, nil
}

// Decode parses a CBOR wire frame back into a Frame. The caller decodes
// Payload into the concrete instruction type named by Kind.
func Decode(b []byte) (Frame, error) {
	var f Frame
	if err := cbor.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("wire: decode frame: %w", err)
	}
	return f, nil
}

// EncodePayload marshals a concrete instruction value to a RawMessage
// suitable for Frame.Payload.
func EncodePayload(v any) (cbor.RawMessage, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode payload: %w", err)
	}
	return cbor.RawMessage(b), nil
}

// DecodePayload unmarshals Frame.Payload into the instruction value out
// points to.
func DecodePayload(payload cbor.RawMessage, out any) error {
	if err := cbor.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("wire: decode payload: %w", err)
	}
	return nil
}

// ContextFrom flattens an ErrorContext into the wire form carried by
// Frame.Context.
func ContextFrom(ctx errctx.ErrorContext) []ContextHop {
	entries := ctx.Entries()
	if len(entries) == 0 {
		return nil
	}
	hops := make([]ContextHop, len(entries))
	for i, e := range entries {
		hops[i] = ContextHop{Bus: e.Bus, Kind: e.Kind}
	}
	return hops
}

// ContextTo rebuilds an ErrorContext from a decoded Frame's Context hops.
func ContextTo(hops []ContextHop) errctx.ErrorContext {
	var ctx errctx.ErrorContext
	for _, h := range hops {
		ctx.AddCall(h.Bus, h.Kind)
	}
	return ctx
}
