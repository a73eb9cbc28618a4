// Package mock provides a scripted llm.Endpoint for tests.
package mock

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/vietvoz/vozgate/pkg/provider/llm"
)

// Compile-time assertion that Endpoint satisfies llm.Endpoint.
var _ llm.Endpoint = (*Endpoint)(nil)

// Endpoint replays scripted deltas and errors. The zero value fails every
// call; populate the fields before use.
type Endpoint struct {
	mu sync.Mutex

	// Deltas are yielded in order by each StreamChat stream.
	Deltas []string
	// StreamErr, when set, fails StreamChat immediately.
	StreamErr error
	// MidStreamErr, when set, is returned by Next after all deltas.
	// Otherwise the stream ends with io.EOF.
	MidStreamErr error

	// CompleteReply is returned by Complete when CompleteErr is nil.
	CompleteReply string
	CompleteErr   error
	// FailJSONMode makes Complete fail only when req.JSONObject is set,
	// for exercising the retry-without-response_format path.
	FailJSONMode bool

	// Calls records every request received.
	Calls []llm.Request
}

func (e *Endpoint) record(req llm.Request) {
	e.mu.Lock()
	e.Calls = append(e.Calls, req)
	e.mu.Unlock()
}

// StreamChat implements llm.Endpoint.
func (e *Endpoint) StreamChat(_ context.Context, req llm.Request) (llm.Stream, error) {
	e.record(req)
	if e.StreamErr != nil {
		return nil, e.StreamErr
	}
	return &stream{deltas: e.Deltas, finalErr: e.MidStreamErr}, nil
}

// Complete implements llm.Endpoint.
func (e *Endpoint) Complete(_ context.Context, req llm.Request) (string, error) {
	e.record(req)
	if e.CompleteErr != nil {
		return "", e.CompleteErr
	}
	if e.FailJSONMode && req.JSONObject {
		return "", errors.New("mock: response_format not supported")
	}
	return e.CompleteReply, nil
}

type stream struct {
	deltas   []string
	pos      int
	finalErr error
}

func (s *stream) Next() (string, error) {
	if s.pos < len(s.deltas) {
		d := s.deltas[s.pos]
		s.pos++
		return d, nil
	}
	if s.finalErr != nil {
		return "", s.finalErr
	}
	return "", io.EOF
}

func (s *stream) Close() error { return nil }
