// Package codec serializes order graphs and decision logs to strings that can
// travel in URLs, files or HTTP bodies.
//
// Every encoding starts with a one-character format tag so a single Decode
// entry point reads both the plain and the compressed form:
//
//	j{"4":["3"],"3":["2"]}     plain JSON
//	zKLUv_QBY...               zstd-compressed JSON, base64url without padding
//
// Decoding rejects graphs that contain a cycle, so anything returned by
// DecodeGraph is safe to hand to the sort engines.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/orneryd/pairsort/pkg/order"
	"github.com/orneryd/pairsort/pkg/pool"
)

// Format selects the string encoding.
type Format string

const (
	// FormatJSON is human readable and tagged with 'j'.
	FormatJSON Format = "json"
	// FormatCompact is zstd + base64url and tagged with 'z'.
	FormatCompact Format = "compact"
)

const (
	tagJSON    = 'j'
	tagCompact = 'z'

	// maxDecodedSize bounds decompression of untrusted input.
	maxDecodedSize = 8 << 20
)

// Errors returned by the decoders.
var (
	ErrUnknownFormat = errors.New("codec: unknown format")
	ErrMalformed     = errors.New("codec: malformed encoding")
	ErrCyclicGraph   = errors.New("codec: graph contains a cycle")
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
)

// ParseFormat maps a name to a Format. The empty string selects FormatCompact.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(FormatCompact), "zstd", "z":
		return FormatCompact, nil
	case string(FormatJSON), "j":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// EncodeGraph serializes g. Nodes without children are omitted.
func EncodeGraph(g order.Graph, format Format) (string, error) {
	return encode(g.Clone(), format)
}

// DecodeGraph parses a string produced by EncodeGraph. The empty string
// decodes to an empty graph.
func DecodeGraph(s string) (order.Graph, error) {
	g := order.Graph{}
	if s == "" {
		return g, nil
	}
	if err := decode(s, &g); err != nil {
		return nil, err
	}
	if g == nil {
		g = order.Graph{}
	}
	for parent, children := range g {
		if len(children) == 0 {
			delete(g, parent)
		}
	}
	if n, ok := findCycle(g); ok {
		return nil, fmt.Errorf("%w: through %q", ErrCyclicGraph, n)
	}
	return g, nil
}

// findCycle runs one iterative three-color DFS over g and returns a node on
// a cycle. Each node and edge is visited once, and the explicit stack keeps
// deep untrusted graphs off the goroutine stack.
func findCycle(g order.Graph) (string, bool) {
	const (
		white = iota
		grey
		black
	)
	type frame struct {
		node string
		next int
	}

	color := make(map[string]int, len(g))
	var stack []frame
	for _, root := range g.Nodes() {
		if color[root] != white {
			continue
		}
		color[root] = grey
		stack = append(stack[:0], frame{node: root})
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			children := g[top.node]
			if top.next == len(children) {
				color[top.node] = black
				stack = stack[:len(stack)-1]
				continue
			}
			child := children[top.next]
			top.next++
			switch color[child] {
			case grey:
				return child, true
			case white:
				color[child] = grey
				stack = append(stack, frame{node: child})
			}
		}
	}
	return "", false
}

// EncodeDecisions serializes a decision log.
func EncodeDecisions(decisions []order.Decision, format Format) (string, error) {
	if decisions == nil {
		decisions = []order.Decision{}
	}
	return encode(decisions, format)
}

// DecodeDecisions parses a string produced by EncodeDecisions. The empty
// string decodes to an empty log.
func DecodeDecisions(s string) ([]order.Decision, error) {
	decisions := []order.Decision{}
	if s == "" {
		return decisions, nil
	}
	if err := decode(s, &decisions); err != nil {
		return nil, err
	}
	if decisions == nil {
		decisions = []order.Decision{}
	}
	return decisions, nil
}

func encode(v any, format Format) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("codec: marshal: %w", err)
	}
	switch format {
	case FormatJSON:
		return string(tagJSON) + string(data), nil
	case FormatCompact, "":
		packed := encoder.EncodeAll(data, pool.GetByteBuffer())
		defer pool.PutByteBuffer(packed)
		return string(tagCompact) + base64.RawURLEncoding.EncodeToString(packed), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func decode(s string, v any) error {
	body := s[1:]
	var data []byte
	switch s[0] {
	case tagJSON:
		data = []byte(body)
	case tagCompact:
		packed, err := base64.RawURLEncoding.DecodeString(body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		data, err = decoder.DecodeAll(packed, pool.GetByteBuffer())
		defer pool.PutByteBuffer(data)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	default:
		return fmt.Errorf("%w: tag %q", ErrUnknownFormat, s[0])
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
