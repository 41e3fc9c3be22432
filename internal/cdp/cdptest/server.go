// Package cdptest provides an in-process fake DevTools endpoint. It speaks
// enough of the Target, Runtime and Page domains for the launcher to track
// windows, and hands in-page evaluation to test-supplied functions.
package cdptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
)

// BrowserPath is the websocket path of the browser endpoint.
const BrowserPath = "/devtools/browser/cdptest"

// EvalFunc answers Runtime.evaluate. A returned error becomes an in-page
// exception carrying its message.
type EvalFunc func(w *Window, expr string) (any, error)

// CallFunc answers Runtime.callFunctionOn. this is the value stored for the
// object the call targets.
type CallFunc func(w *Window, this any, fn string, args []any) (any, error)

// Window is a fake page target.
type Window struct {
	ID target.ID

	mu      sync.Mutex
	url     string
	scripts []string
	reloads int
	vars    map[string]any
}

func (w *Window) URL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.url
}

// Scripts returns the scripts registered with addScriptToEvaluateOnNewDocument.
func (w *Window) Scripts() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.scripts...)
}

func (w *Window) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Set stores a per-window value for eval handlers.
func (w *Window) Set(key string, v any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.vars[key] = v
}

func (w *Window) Get(key string) any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.vars[key]
}

func (w *Window) info() *target.Info {
	return &target.Info{TargetID: w.ID, Type: "page", URL: w.URL(), Title: "cdptest"}
}

type peer struct {
	ws       *websocket.Conn
	mu       sync.Mutex
	discover bool
}

func (p *peer) send(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ws.WriteJSON(v)
}

type request struct {
	ID        int64            `json:"id"`
	SessionID target.SessionID `json:"sessionId,omitempty"`
	Method    string           `json:"method"`
	Params    json.RawMessage  `json:"params,omitempty"`
}

type protocolError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// Server is a fake DevTools endpoint backed by httptest.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	windows  []*Window
	sessions map[target.SessionID]*Window
	objects  map[runtime.RemoteObjectID]any
	peers    map[*peer]struct{}
	calls    map[string]int
	nextWin  int
	nextObj  int
	eval     EvalFunc
	call     CallFunc
}

// New starts a fake endpoint. Close it when done.
func New() *Server {
	s := &Server{
		sessions: make(map[target.SessionID]*Window),
		objects:  make(map[runtime.RemoteObjectID]any),
		peers:    make(map[*peer]struct{}),
		calls:    make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(BrowserPath, s.serveWS)
	s.srv = httptest.NewServer(mux)
	return s
}

func (s *Server) Close() {
	s.mu.Lock()
	for p := range s.peers {
		p.ws.Close()
	}
	s.mu.Unlock()
	s.srv.Close()
}

// URL is the websocket URL of the browser endpoint.
func (s *Server) URL() string {
	return "ws://" + s.host() + BrowserPath
}

// ActivePort returns DevToolsActivePort content pointing at the server.
func (s *Server) ActivePort() []byte {
	u, _ := url.Parse(s.srv.URL)
	return []byte(u.Port() + "\n" + BrowserPath + "\n")
}

func (s *Server) host() string {
	return strings.TrimPrefix(s.srv.URL, "http://")
}

// HandleEval installs the Runtime.evaluate handler.
func (s *Server) HandleEval(fn EvalFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eval = fn
}

// HandleCall installs the Runtime.callFunctionOn handler.
func (s *Server) HandleCall(fn CallFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.call = fn
}

// OpenWindow creates a page target and announces it to discovering clients.
func (s *Server) OpenWindow(rawURL string) *Window {
	s.mu.Lock()
	s.nextWin++
	w := &Window{
		ID:   target.ID(fmt.Sprintf("WIN-%d", s.nextWin)),
		url:  rawURL,
		vars: make(map[string]any),
	}
	s.windows = append(s.windows, w)
	s.mu.Unlock()

	s.broadcast(cdproto.EventTargetTargetCreated, map[string]any{"targetInfo": w.info()})
	return w
}

// CloseWindow destroys a page target as if the host closed it.
func (s *Server) CloseWindow(id target.ID) {
	s.mu.Lock()
	found := false
	for i, w := range s.windows {
		if w.ID == id {
			s.windows = append(s.windows[:i], s.windows[i+1:]...)
			found = true
			break
		}
	}
	for sid, w := range s.sessions {
		if w.ID == id {
			delete(s.sessions, sid)
		}
	}
	s.mu.Unlock()

	if found {
		s.broadcast(cdproto.EventTargetTargetDestroyed, map[string]any{"targetId": id})
	}
}

// Navigate changes the URL of a window.
func (s *Server) Navigate(id target.ID, rawURL string) {
	w := s.Window(id)
	if w == nil {
		return
	}
	w.mu.Lock()
	w.url = rawURL
	w.mu.Unlock()
	s.broadcast(cdproto.EventTargetTargetInfoChanged, map[string]any{"targetInfo": w.info()})
}

// Reload reloads a window as the host would on its own: the reload is
// counted and the window's execution contexts are cleared.
func (s *Server) Reload(id target.ID) {
	w := s.Window(id)
	if w == nil {
		return
	}
	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	s.clearContexts(id)
}

// clearContexts sends Runtime.executionContextsCleared on every session
// attached to the window.
func (s *Server) clearContexts(id target.ID) {
	s.mu.Lock()
	var sids []target.SessionID
	for sid, w := range s.sessions {
		if w.ID == id {
			sids = append(sids, sid)
		}
	}
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, sid := range sids {
		msg := map[string]any{
			"method":    cdproto.EventRuntimeExecutionContextsCleared,
			"params":    map[string]any{},
			"sessionId": sid,
		}
		for _, p := range peers {
			p.send(msg)
		}
	}
}

// Window returns the open window with the given id, or nil.
func (s *Server) Window(id target.ID) *Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.windows {
		if w.ID == id {
			return w
		}
	}
	return nil
}

// Windows returns the open windows in creation order.
func (s *Server) Windows() []*Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Window(nil), s.windows...)
}

// Calls returns how many times method was received.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Server) broadcast(method string, params any) {
	msg := map[string]any{"method": method, "params": params}
	s.mu.Lock()
	var peers []*peer
	for p := range s.peers {
		if p.discover {
			peers = append(peers, p)
		}
	}
	s.mu.Unlock()
	for _, p := range peers {
		p.send(msg)
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{ws: ws}
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		ws.Close()
	}()

	for {
		var req request
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		result, perr := s.handle(p, req)
		resp := map[string]any{"id": req.ID}
		if req.SessionID != "" {
			resp["sessionId"] = req.SessionID
		}
		if perr != nil {
			resp["error"] = perr
		} else {
			if result == nil {
				result = map[string]any{}
			}
			resp["result"] = result
		}
		p.send(resp)
	}
}

func (s *Server) handle(p *peer, req request) (any, *protocolError) {
	s.mu.Lock()
	s.calls[req.Method]++
	var win *Window
	if req.SessionID != "" {
		win = s.sessions[req.SessionID]
	}
	s.mu.Unlock()

	if req.SessionID != "" && win == nil {
		return nil, &protocolError{Code: -32001, Message: "Session with given id not found."}
	}
	if win == nil && (strings.HasPrefix(req.Method, "Page.") || strings.HasPrefix(req.Method, "Runtime.")) {
		return nil, &protocolError{Code: -32601, Message: "'" + req.Method + "' wasn't found"}
	}

	switch req.Method {
	case target.CommandSetDiscoverTargets:
		s.mu.Lock()
		p.discover = true
		existing := append([]*Window(nil), s.windows...)
		s.mu.Unlock()
		for _, w := range existing {
			p.send(map[string]any{
				"method": cdproto.EventTargetTargetCreated,
				"params": map[string]any{"targetInfo": w.info()},
			})
		}
		return nil, nil

	case target.CommandGetTargets:
		infos := []*target.Info{}
		for _, w := range s.Windows() {
			infos = append(infos, w.info())
		}
		return map[string]any{"targetInfos": infos}, nil

	case target.CommandAttachToTarget:
		var params struct {
			TargetID target.ID `json:"targetId"`
		}
		_ = json.Unmarshal(req.Params, &params)
		w := s.Window(params.TargetID)
		if w == nil {
			return nil, &protocolError{Code: -32602, Message: "No target with given id found"}
		}
		sid := target.SessionID("S-" + string(w.ID))
		s.mu.Lock()
		s.sessions[sid] = w
		s.mu.Unlock()
		return map[string]any{"sessionId": sid}, nil

	case target.CommandCloseTarget:
		var params struct {
			TargetID target.ID `json:"targetId"`
		}
		_ = json.Unmarshal(req.Params, &params)
		if s.Window(params.TargetID) == nil {
			return nil, &protocolError{Code: -32602, Message: "No target with given id found"}
		}
		s.CloseWindow(params.TargetID)
		return map[string]any{"success": true}, nil

	case page.CommandAddScriptToEvaluateOnNewDocument:
		var params struct {
			Source string `json:"source"`
		}
		_ = json.Unmarshal(req.Params, &params)
		win.mu.Lock()
		win.scripts = append(win.scripts, params.Source)
		n := len(win.scripts)
		win.mu.Unlock()
		return map[string]any{"identifier": fmt.Sprint(n)}, nil

	case page.CommandReload:
		s.Reload(win.ID)
		return nil, nil

	case runtime.CommandEvaluate:
		var params struct {
			Expression    string `json:"expression"`
			ReturnByValue bool   `json:"returnByValue"`
		}
		_ = json.Unmarshal(req.Params, &params)
		s.mu.Lock()
		fn := s.eval
		s.mu.Unlock()
		var v any
		var err error
		if fn != nil {
			v, err = fn(win, params.Expression)
		}
		return s.reply(v, err, params.ReturnByValue), nil

	case runtime.CommandCallFunctionOn:
		var params struct {
			FunctionDeclaration string                 `json:"functionDeclaration"`
			ObjectID            runtime.RemoteObjectID `json:"objectId"`
			ReturnByValue       bool                   `json:"returnByValue"`
			Arguments           []struct {
				Value any `json:"value"`
			} `json:"arguments"`
		}
		_ = json.Unmarshal(req.Params, &params)
		s.mu.Lock()
		this, ok := s.objects[params.ObjectID]
		fn := s.call
		s.mu.Unlock()
		if !ok {
			return nil, &protocolError{Code: -32000, Message: "Could not find object with given id"}
		}
		args := make([]any, 0, len(params.Arguments))
		for _, a := range params.Arguments {
			args = append(args, a.Value)
		}
		var v any
		var err error
		if fn != nil {
			v, err = fn(win, this, params.FunctionDeclaration, args)
		}
		return s.reply(v, err, params.ReturnByValue), nil

	case runtime.CommandReleaseObject:
		var params struct {
			ObjectID runtime.RemoteObjectID `json:"objectId"`
		}
		_ = json.Unmarshal(req.Params, &params)
		s.mu.Lock()
		delete(s.objects, params.ObjectID)
		s.mu.Unlock()
		return nil, nil
	}
	return nil, nil
}

func (s *Server) reply(v any, err error, byValue bool) map[string]any {
	if err != nil {
		return map[string]any{
			"result": map[string]any{"type": "object", "subtype": "error", "description": err.Error()},
			"exceptionDetails": map[string]any{
				"text":      "Uncaught",
				"exception": map[string]any{"type": "object", "subtype": "error", "description": err.Error()},
			},
		}
	}
	if v == nil {
		return map[string]any{"result": map[string]any{"type": "undefined"}}
	}
	if !byValue {
		s.mu.Lock()
		s.nextObj++
		id := runtime.RemoteObjectID(fmt.Sprintf("obj-%d", s.nextObj))
		s.objects[id] = v
		s.mu.Unlock()
		return map[string]any{"result": map[string]any{"type": "object", "objectId": id}}
	}
	return map[string]any{"result": map[string]any{"type": jsType(v), "value": v}}
}

func jsType(v any) string {
	switch v.(type) {
	case bool:
		return "boolean"
	case string:
		return "string"
	case int, int64, float64:
		return "number"
	}
	return "object"
}
