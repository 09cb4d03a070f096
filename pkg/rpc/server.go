package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Handler processes one dispatched method call and returns its result
// (for a request) or nothing meaningful (for a notification, whose
// return value is ignored except for the error).
type Handler func(ctx context.Context, method string, params json.RawMessage) (any, error)

// Server is the cooperative JSON-RPC loop of spec.md §4.5: lines are
// read sequentially, but each is dispatched to the Handler on its own
// goroutine so a slow in-flight request (e.g. an Agent Loop turn)
// never blocks the next line from being read — a control method like
// `abort` must be able to reach the Handler while a turn is running.
// Serializing the actual Agent Loop work (so it "never runs two turns
// simultaneously") is the Handler's own responsibility.
type Server struct {
	transport Transport
	handler   Handler

	mu       sync.Mutex
	stopCh   chan struct{}
	running  bool
	inFlight sync.WaitGroup
}

func NewServer(transport Transport, handler Handler) *Server {
	return &Server{transport: transport, handler: handler}
}

// Start reads lines until the input stream ends or Stop is called.
// It may be called again after a prior Start has returned.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.stopCh = make(chan struct{})
	s.running = true
	stopCh := s.stopCh
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	// Every dispatched line finishes before Start itself returns, so a
	// caller that awaits Start sees a fully drained transport — only
	// the read loop and the handler run concurrently with each other,
	// not with Start's return.
	defer s.inFlight.Wait()

	type readOutcome struct {
		line []byte
		ok   bool
		err  error
	}

	for {
		resultCh := make(chan readOutcome, 1)
		go func() {
			line, ok, err := s.transport.ReadLine()
			resultCh <- readOutcome{line, ok, err}
		}()

		select {
		case <-stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case res := <-resultCh:
			if res.err != nil {
				return res.err
			}
			if !res.ok {
				return nil
			}
			// Dispatch off the read loop: a slow handler (e.g. a
			// long-running Agent Loop turn) must not block the next
			// line from being read, so that a subsequent request like
			// `abort` can still reach the handler concurrently. Actual
			// serialization of Agent Loop turns is the handler's own
			// responsibility (spec.md §5).
			line := res.line
			s.inFlight.Add(1)
			go func() {
				defer s.inFlight.Done()
				s.handleLine(ctx, line)
			}()
		}
	}
}

// Stop causes a pending Start to return. Non-existent or already
// stopped servers tolerate a redundant Stop call.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	s.running = false
}

func (s *Server) handleLine(ctx context.Context, raw []byte) {
	req, notification, classifyErr := Classify(raw)
	if classifyErr != nil {
		code := CodeInvalidRequest
		var cerr *ClassifyError
		if errors.As(classifyErr, &cerr) {
			code = cerr.Code
		}
		s.writeError(nil, code, classifyErr.Error())
		return
	}

	if req != nil {
		result, err := s.handler(ctx, req.Method, req.Params)
		if err != nil {
			if errors.Is(err, ErrMethodNotFound) {
				s.writeError(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
			} else {
				s.writeError(req.ID, CodeInternalError, err.Error())
			}
			return
		}
		s.writeSuccess(req.ID, result)
		return
	}

	if notification != nil {
		if _, err := s.handler(ctx, notification.Method, notification.Params); err != nil {
			s.Notify("log", map[string]any{"level": "warn", "message": err.Error()})
		}
	}
}

// Notify writes a notification line immediately; writes are
// synchronous so ordering matches the call order.
func (s *Server) Notify(method string, params any) error {
	msg := notificationMessage{JSONRPC: Version, Method: method, Params: params}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("rpc: failed to marshal notification: %w", err)
	}
	return s.transport.WriteLine(raw)
}

func (s *Server) writeSuccess(id any, result any) {
	msg := successResponse{JSONRPC: Version, ID: id, Result: result}
	raw, err := json.Marshal(msg)
	if err != nil {
		s.writeError(id, CodeInternalError, fmt.Sprintf("failed to marshal result: %v", err))
		return
	}
	_ = s.transport.WriteLine(raw)
}

func (s *Server) writeError(id any, code int, message string) {
	msg := errorResponse{JSONRPC: Version, ID: id, Error: RPCError{Code: code, Message: message}}
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = s.transport.WriteLine(raw)
}
