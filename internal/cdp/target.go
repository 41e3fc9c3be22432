package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
)

// IsWindow reports whether info describes an application window, as opposed
// to workers, DevTools frontends or the browser target itself.
func IsWindow(info *target.Info) bool {
	if info == nil || info.Type != "page" {
		return false
	}
	return !strings.HasPrefix(info.URL, "devtools://")
}

// DiscoverTargets asks the endpoint to report every existing and future
// target through Target.targetCreated events.
func (c *Conn) DiscoverTargets(ctx context.Context) error {
	params := map[string]any{"discover": true}
	return c.Execute(ctx, "", target.CommandSetDiscoverTargets, params, nil)
}

// Targets lists the current targets.
func (c *Conn) Targets(ctx context.Context) ([]*target.Info, error) {
	var res struct {
		TargetInfos []*target.Info `json:"targetInfos"`
	}
	if err := c.Execute(ctx, "", target.CommandGetTargets, nil, &res); err != nil {
		return nil, err
	}
	return res.TargetInfos, nil
}

// Attach opens a flattened session on the target.
func (c *Conn) Attach(ctx context.Context, id target.ID) (target.SessionID, error) {
	params := map[string]any{"targetId": id, "flatten": true}
	var res struct {
		SessionID target.SessionID `json:"sessionId"`
	}
	if err := c.Execute(ctx, "", target.CommandAttachToTarget, params, &res); err != nil {
		return "", err
	}
	if res.SessionID == "" {
		return "", fmt.Errorf("attach to %s returned no session", id)
	}
	return res.SessionID, nil
}

// CloseTarget asks the endpoint to close the target.
func (c *Conn) CloseTarget(ctx context.Context, id target.ID) error {
	params := map[string]any{"targetId": id}
	return c.Execute(ctx, "", target.CommandCloseTarget, params, nil)
}

// TargetEvent is a decoded Target domain lifecycle event.
type TargetEvent struct {
	Method string
	Info   *target.Info
	ID     target.ID
}

// DecodeTargetEvent decodes targetCreated, targetInfoChanged and
// targetDestroyed events. ok is false for any other event.
func DecodeTargetEvent(ev Event) (te TargetEvent, ok bool, err error) {
	te.Method = ev.Method
	switch ev.Method {
	case cdproto.EventTargetTargetCreated, cdproto.EventTargetTargetInfoChanged:
		var p struct {
			TargetInfo *target.Info `json:"targetInfo"`
		}
		if err := json.Unmarshal(ev.Params, &p); err != nil {
			return te, true, fmt.Errorf("failed to decode %s: %w", ev.Method, err)
		}
		if p.TargetInfo == nil {
			return te, true, fmt.Errorf("%s without targetInfo", ev.Method)
		}
		te.Info = p.TargetInfo
		te.ID = p.TargetInfo.TargetID
		return te, true, nil
	case cdproto.EventTargetTargetDestroyed:
		var p struct {
			TargetID target.ID `json:"targetId"`
		}
		if err := json.Unmarshal(ev.Params, &p); err != nil {
			return te, true, fmt.Errorf("failed to decode %s: %w", ev.Method, err)
		}
		te.ID = p.TargetID
		return te, true, nil
	}
	return te, false, nil
}
