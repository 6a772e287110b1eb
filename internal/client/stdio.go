package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrTransportClosed is returned for requests pending when the server exits.
var ErrTransportClosed = errors.New("transport closed")

// StdioTransport speaks newline-delimited JSON-RPC to a child process
type StdioTransport struct {
	command []string
	timeout time.Duration
	logger  *zap.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	// Request tracking
	writeMu     sync.Mutex
	mu          sync.Mutex
	nextID      int
	pendingReqs map[int]chan *JSONRPCResponse

	readerDone chan struct{}
	stderrDone chan struct{}
	closeOnce  sync.Once
}

// NewStdioTransport creates a stdio transport. A zero timeout leaves request
// deadlines to the caller's context.
func NewStdioTransport(command []string, timeout time.Duration, logger *zap.Logger) *StdioTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdioTransport{
		command:     command,
		timeout:     timeout,
		logger:      logger,
		pendingReqs: make(map[int]chan *JSONRPCResponse),
		nextID:      1,
		readerDone:  make(chan struct{}),
		stderrDone:  make(chan struct{}),
	}
}

// Start launches the subprocess and starts reading. The process outlives ctx;
// it is stopped by Close.
func (t *StdioTransport) Start(ctx context.Context) error {
	if len(t.command) == 0 {
		return fmt.Errorf("command cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.cmd = exec.Command(t.command[0], t.command[1:]...)

	var err error
	t.stdin, err = t.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	t.stdout, err = t.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	t.stderr, err = t.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := t.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}

	go t.readLoop()
	go t.logStderr()

	return nil
}

// SendRequest sends a JSON-RPC request and waits for response
func (t *StdioTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	respChan := make(chan *JSONRPCResponse, 1)
	t.pendingReqs[id] = respChan
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pendingReqs, id)
		t.mu.Unlock()
	}()

	data, err := json.Marshal(JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if err := t.write(data); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("request %s timeout: %w", method, ctx.Err())
	case <-t.readerDone:
		return nil, ErrTransportClosed
	}
}

// SendNotification sends a JSON-RPC notification (no response)
func (t *StdioTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
	}
	if params != nil {
		req["params"] = params
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := t.write(data); err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}
	return nil
}

func (t *StdioTransport) write(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := t.stdin.Write(append(data, '\n'))
	return err
}

// Close closes stdin, waits for the server to exit and kills it after 5s
func (t *StdioTransport) Close() error {
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}

	t.closeOnce.Do(func() {
		t.stdin.Close()

		done := make(chan error, 1)
		go func() {
			// Drain readers before Wait closes the pipes
			<-t.readerDone
			<-t.stderrDone
			done <- t.cmd.Wait()
		}()

		select {
		case err := <-done:
			if err != nil {
				t.logger.Debug("MCP server exited", zap.Error(err))
			}
		case <-time.After(5 * time.Second):
			t.logger.Warn("MCP server did not exit, killing", zap.Strings("command", t.command))
			_ = t.cmd.Process.Kill()
			<-done
		}
	})
	return nil
}

// readLoop routes JSON-RPC responses from stdout to pending requests
func (t *StdioTransport) readLoop() {
	defer close(t.readerDone)

	scanner := bufio.NewScanner(t.stdout)
	// Audio payloads arrive base64 encoded on a single line
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp JSONRPCResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			t.logger.Debug("Skipping non JSON-RPC line", zap.ByteString("line", line))
			continue
		}

		t.mu.Lock()
		if ch, ok := t.pendingReqs[resp.ID]; ok {
			ch <- &resp
		}
		t.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		t.logger.Warn("Error reading MCP server stdout", zap.Error(err))
	}
}

func (t *StdioTransport) logStderr() {
	defer close(t.stderrDone)

	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		t.logger.Debug("MCP server stderr", zap.String("line", scanner.Text()))
	}
}
