package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
)

// EvalError is an exception thrown by in-page code.
type EvalError struct {
	Expression string
	Text       string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluation failed: %s", e.Text)
}

type remoteObject struct {
	Type        string                 `json:"type"`
	Subtype     string                 `json:"subtype,omitempty"`
	Value       json.RawMessage        `json:"value,omitempty"`
	ObjectID    runtime.RemoteObjectID `json:"objectId,omitempty"`
	Description string                 `json:"description,omitempty"`
}

type exceptionDetails struct {
	Text      string        `json:"text"`
	Exception *remoteObject `json:"exception,omitempty"`
}

func (d *exceptionDetails) message() string {
	if d.Exception != nil && d.Exception.Description != "" {
		return d.Exception.Description
	}
	return d.Text
}

type evalResult struct {
	Result           remoteObject      `json:"result"`
	ExceptionDetails *exceptionDetails `json:"exceptionDetails,omitempty"`
}

// Window is an attached application window. Its epoch advances whenever
// the document is replaced (reload) or the window closes, which invalidates
// every Handle issued before.
type Window struct {
	conn    *Conn
	id      target.ID
	session target.SessionID
	seq     int

	mu     sync.Mutex
	url    string
	epoch  uint64
	closed bool
}

// AttachWindow attaches to the target and enables the Runtime and Page
// domains on it. seq orders windows by creation.
func AttachWindow(ctx context.Context, conn *Conn, info *target.Info, seq int) (*Window, error) {
	session, err := conn.Attach(ctx, info.TargetID)
	if err != nil {
		return nil, fmt.Errorf("failed to attach to window %s: %w", info.TargetID, err)
	}
	w := &Window{conn: conn, id: info.TargetID, session: session, seq: seq, url: info.URL}
	if err := conn.Execute(ctx, session, runtime.CommandEnable, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to enable runtime on %s: %w", info.TargetID, err)
	}
	if err := conn.Execute(ctx, session, page.CommandEnable, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to enable page on %s: %w", info.TargetID, err)
	}
	return w, nil
}

func (w *Window) ID() target.ID               { return w.id }
func (w *Window) SessionID() target.SessionID { return w.session }

// Seq is the creation order of the window within one launch.
func (w *Window) Seq() int { return w.seq }

// URL is the last URL reported for the window.
func (w *Window) URL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.url
}

// SetURL records a URL change reported by the endpoint. A change of
// document invalidates outstanding handles.
func (w *Window) SetURL(url string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if url != w.url {
		w.url = url
		w.epoch++
	}
}

// Invalidate starts a new epoch without a URL change, as when the page's
// execution contexts are cleared by a navigation the endpoint reports late.
func (w *Window) Invalidate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.epoch++
}

// Epoch identifies the current document of the window.
func (w *Window) Epoch() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.epoch
}

func (w *Window) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// MarkClosed records that the endpoint destroyed the window.
func (w *Window) MarkClosed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		w.epoch++
	}
}

// Evaluate runs expr in the window, awaiting a returned promise, and decodes
// the JSON value of the result into result. result may be nil.
func (w *Window) Evaluate(ctx context.Context, expr string, result any) error {
	obj, err := w.evaluate(ctx, expr, true)
	if err != nil {
		return err
	}
	return decodeValue(obj, result)
}

// EvaluateHandle runs expr and returns a handle to the resulting object
// instead of its value.
func (w *Window) EvaluateHandle(ctx context.Context, expr string) (*Handle, error) {
	epoch := w.Epoch()
	obj, err := w.evaluate(ctx, expr, false)
	if err != nil {
		return nil, err
	}
	if obj.ObjectID == "" {
		return nil, fmt.Errorf("expression %q returned %s: %w", expr, obj.Type, ErrNoObject)
	}
	return &Handle{ObjectID: obj.ObjectID, window: w, epoch: epoch}, nil
}

func (w *Window) evaluate(ctx context.Context, expr string, byValue bool) (*remoteObject, error) {
	if w.Closed() {
		return nil, fmt.Errorf("window %s: %w", w.id, ErrWindowClosed)
	}
	params := map[string]any{
		"expression":    expr,
		"returnByValue": byValue,
		"awaitPromise":  true,
		"userGesture":   true,
	}
	var res evalResult
	if err := w.conn.Execute(ctx, w.session, runtime.CommandEvaluate, params, &res); err != nil {
		return nil, err
	}
	if res.ExceptionDetails != nil {
		return nil, &EvalError{Expression: expr, Text: res.ExceptionDetails.message()}
	}
	return &res.Result, nil
}

// CallOn invokes fn (a JavaScript function declaration) with the handle's
// object as this and args as positional arguments, and decodes the returned
// value into result.
func (w *Window) CallOn(ctx context.Context, h *Handle, fn string, result any, args ...any) error {
	obj, err := w.callOn(ctx, h, fn, true, args)
	if err != nil {
		return err
	}
	return decodeValue(obj, result)
}

// CallOnHandle is CallOn returning a handle to the resulting object. It
// fails with ErrNoObject when fn returns a primitive or undefined.
func (w *Window) CallOnHandle(ctx context.Context, h *Handle, fn string, args ...any) (*Handle, error) {
	epoch := w.Epoch()
	obj, err := w.callOn(ctx, h, fn, false, args)
	if err != nil {
		return nil, err
	}
	if obj.ObjectID == "" {
		return nil, fmt.Errorf("call on %s returned %s: %w", h.ObjectID, obj.Type, ErrNoObject)
	}
	return &Handle{ObjectID: obj.ObjectID, window: w, epoch: epoch}, nil
}

func (w *Window) callOn(ctx context.Context, h *Handle, fn string, byValue bool, args []any) (*remoteObject, error) {
	if err := h.check(w); err != nil {
		return nil, err
	}
	callArgs := make([]map[string]any, 0, len(args))
	for _, a := range args {
		callArgs = append(callArgs, map[string]any{"value": a})
	}
	params := map[string]any{
		"functionDeclaration": fn,
		"objectId":            h.ObjectID,
		"arguments":           callArgs,
		"returnByValue":       byValue,
		"awaitPromise":        true,
		"userGesture":         true,
	}
	var res evalResult
	if err := w.conn.Execute(ctx, w.session, runtime.CommandCallFunctionOn, params, &res); err != nil {
		return nil, err
	}
	if res.ExceptionDetails != nil {
		return nil, &EvalError{Expression: fn, Text: res.ExceptionDetails.message()}
	}
	return &res.Result, nil
}

// Release frees the remote object behind h. Releasing a stale handle is a no-op.
func (w *Window) Release(ctx context.Context, h *Handle) error {
	if h.check(w) != nil {
		return nil
	}
	params := map[string]any{"objectId": h.ObjectID}
	return w.conn.Execute(ctx, w.session, runtime.CommandReleaseObject, params, nil)
}

// AddInitScript registers source to run in every new document of the window.
func (w *Window) AddInitScript(ctx context.Context, source string) error {
	params := map[string]any{"source": source}
	return w.conn.Execute(ctx, w.session, page.CommandAddScriptToEvaluateOnNewDocument, params, nil)
}

// Reload reloads the document and invalidates outstanding handles.
func (w *Window) Reload(ctx context.Context) error {
	w.mu.Lock()
	w.epoch++
	w.mu.Unlock()
	return w.conn.Execute(ctx, w.session, page.CommandReload, map[string]any{"ignoreCache": true}, nil)
}

// Close closes the window through the browser endpoint.
func (w *Window) Close(ctx context.Context) error {
	if w.Closed() {
		return nil
	}
	err := w.conn.CloseTarget(ctx, w.id)
	w.MarkClosed()
	return err
}

func decodeValue(obj *remoteObject, result any) error {
	if result == nil || len(obj.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(obj.Value, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", obj.Type, err)
	}
	return nil
}
