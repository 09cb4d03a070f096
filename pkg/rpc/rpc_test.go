package rpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Request(t *testing.T) {
	req, ntf, err := Classify([]byte(`{"jsonrpc":"2.0","id":"1","method":"ping","params":{"a":1}}`))
	require.NoError(t, err)
	require.Nil(t, ntf)
	require.NotNil(t, req)
	assert.Equal(t, "1", req.ID)
	assert.Equal(t, "ping", req.Method)
}

func TestClassify_RequestWithNumericID(t *testing.T) {
	req, _, err := Classify([]byte(`{"jsonrpc":"2.0","id":42,"method":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, float64(42), req.ID)
}

func TestClassify_Notification(t *testing.T) {
	req, ntf, err := Classify([]byte(`{"jsonrpc":"2.0","method":"log"}`))
	require.NoError(t, err)
	require.Nil(t, req)
	require.NotNil(t, ntf)
	assert.Equal(t, "log", ntf.Method)
}

func TestClassify_ParseError(t *testing.T) {
	_, _, err := Classify([]byte(`{not json`))
	require.Error(t, err)
	var cerr *ClassifyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, CodeParseError, cerr.Code)
	assert.Equal(t, "Parse error", cerr.Message)
}

func TestClassify_NotAnObject(t *testing.T) {
	_, _, err := Classify([]byte(`[1,2,3]`))
	require.Error(t, err)
	var cerr *ClassifyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, CodeInvalidRequest, cerr.Code)
}

func TestClassify_WrongJSONRPCVersion(t *testing.T) {
	_, _, err := Classify([]byte(`{"jsonrpc":"1.0","method":"ping","id":1}`))
	require.Error(t, err)
	var cerr *ClassifyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, CodeInvalidRequest, cerr.Code)
}

func TestClassify_BadIDType(t *testing.T) {
	_, _, err := Classify([]byte(`{"jsonrpc":"2.0","method":"ping","id":true}`))
	require.Error(t, err)
	var cerr *ClassifyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, CodeInvalidRequest, cerr.Code)
}

// memTransport is an in-memory Transport for server tests: Write
// appends to a slice, Read drains a queued slice of lines.
type memTransport struct {
	in      [][]byte
	inIdx   int
	written [][]byte
}

func (m *memTransport) ReadLine() ([]byte, bool, error) {
	if m.inIdx >= len(m.in) {
		return nil, false, nil
	}
	line := m.in[m.inIdx]
	m.inIdx++
	return line, true, nil
}

func (m *memTransport) WriteLine(line []byte) error {
	cp := make([]byte, len(line))
	copy(cp, line)
	m.written = append(m.written, cp)
	return nil
}

func TestServer_DispatchesRequestSuccess(t *testing.T) {
	transport := &memTransport{in: [][]byte{[]byte(`{"jsonrpc":"2.0","id":"1","method":"echo","params":{"x":1}}`)}}
	handler := func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		return map[string]any{"echoed": method}, nil
	}
	server := NewServer(transport, handler)
	require.NoError(t, server.Start(context.Background()))

	require.Len(t, transport.written, 1)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(transport.written[0], &resp))
	assert.Equal(t, "1", resp["id"])
	assert.NotContains(t, resp, "error")
}

func TestServer_MethodNotFound(t *testing.T) {
	transport := &memTransport{in: [][]byte{[]byte(`{"jsonrpc":"2.0","id":"1","method":"bogus"}`)}}
	handler := func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		return nil, ErrMethodNotFound
	}
	server := NewServer(transport, handler)
	require.NoError(t, server.Start(context.Background()))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(transport.written[0], &resp))
	errObj := resp["error"].(map[string]any)
	assert.Equal(t, float64(CodeMethodNotFound), errObj["code"])
	assert.Contains(t, errObj["message"], "bogus")
}

func TestServer_ParseErrorUsesNullID(t *testing.T) {
	transport := &memTransport{in: [][]byte{[]byte(`not json at all`)}}
	handler := func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		t.Fatal("handler must not be called on a parse error")
		return nil, nil
	}
	server := NewServer(transport, handler)
	require.NoError(t, server.Start(context.Background()))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(transport.written[0], &resp))
	assert.Nil(t, resp["id"])
	errObj := resp["error"].(map[string]any)
	assert.Equal(t, float64(CodeParseError), errObj["code"])
}

func TestServer_NotificationErrorBecomesLogNotification(t *testing.T) {
	transport := &memTransport{in: [][]byte{[]byte(`{"jsonrpc":"2.0","method":"fireAndForget"}`)}}
	handler := func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		return nil, assertErr{"boom"}
	}
	server := NewServer(transport, handler)
	require.NoError(t, server.Start(context.Background()))

	require.Len(t, transport.written, 1)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(transport.written[0], &msg))
	assert.Equal(t, "log", msg["method"])
	assert.NotContains(t, msg, "id") // notifications carry no id
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func TestServer_StopResolvesPendingStart(t *testing.T) {
	transport := &blockingTransport{unblock: make(chan struct{})}
	handler := func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		return nil, nil
	}
	server := NewServer(transport, handler)

	done := make(chan error, 1)
	go func() { done <- server.Start(context.Background()) }()

	// Wait until Start is pending; a Stop before that is a no-op.
	require.Eventually(t, func() bool {
		server.mu.Lock()
		defer server.mu.Unlock()
		return server.running
	}, time.Second, time.Millisecond)

	server.Stop()
	err := <-done
	require.NoError(t, err)
}

// blockingTransport's ReadLine never returns on its own; used to prove
// Stop() unblocks Start() without waiting on the transport.
type blockingTransport struct {
	unblock chan struct{}
}

func (b *blockingTransport) ReadLine() ([]byte, bool, error) {
	<-b.unblock
	return nil, false, nil
}

func (b *blockingTransport) WriteLine(line []byte) error { return nil }
