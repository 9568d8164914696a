package vss

import (
	"context"
	"encoding/json"
	"time"
)

// CommandProcessor dispatches a JSON request against a Channel, per
// spec.md §4.5: parse the action, consult Authenticator, invoke the
// relevant SignalTree/SubscriptionEngine operation, shape a response or
// error envelope. It holds no per-connection state of its own — Channel
// carries that — so one CommandProcessor is shared by every connection.
type CommandProcessor struct {
	tree   *SignalTree
	auth   *Authenticator
	subs   *SubscriptionEngine
	daemon *DaemonClient
}

func NewCommandProcessor(tree *SignalTree, auth *Authenticator, subs *SubscriptionEngine, daemon *DaemonClient) *CommandProcessor {
	return &CommandProcessor{tree: tree, auth: auth, subs: subs, daemon: daemon}
}

type wireRequest struct {
	Action         string          `json:"action"`
	RequestId      json.RawMessage `json:"requestId"`
	Path           string          `json:"path"`
	Value          json.RawMessage `json:"value"`
	Tokens         string          `json:"tokens"`
	ClientId       string          `json:"clientid"`
	Secret         string          `json:"secret"`
	SubscriptionId uint32          `json:"subscriptionId"`
}

// Process handles one inbound frame for channel. It returns the response
// frame to send back, or nil when the action is unknown and per spec.md
// §4.5 no response should be sent (the connection stays open).
func (self *CommandProcessor) Process(ctx context.Context, channel *Channel, raw []byte) []byte {
	var req wireRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return self.errorFrame("", nil, KindMalformedRequest, "invalid JSON request")
	}
	if req.Action == "" {
		return self.errorFrame("", req.RequestId, KindMalformedRequest, "missing action")
	}

	traceId := NewId()
	Verbosef("trace %s channel %d: action=%s requestId=%s", traceId, channel.ConnId, req.Action, string(req.RequestId))

	switch req.Action {
	case "authorize":
		return self.handleAuthorize(channel, req)
	case "kuksa-authorize":
		return self.handleKuksaAuthorize(ctx, channel, req)
	case "get":
		return self.handleGet(channel, req)
	case "set":
		return self.handleSet(channel, req)
	case "subscribe":
		return self.handleSubscribe(channel, req)
	case "unsubscribe":
		return self.handleUnsubscribe(channel, req)
	case "getMetadata":
		return self.handleGetMetadata(channel, req)
	default:
		Infof("unknown action %q from channel %d", req.Action, channel.ConnId)
		return nil
	}
}

func (self *CommandProcessor) handleAuthorize(channel *Channel, req wireRequest) []byte {
	if req.Tokens == "" {
		return self.errorFrame(req.Action, req.RequestId, KindMalformedRequest, "missing tokens")
	}
	ttl := self.auth.Validate(channel, req.Tokens)
	if ttl < 0 {
		return self.errorFrame(req.Action, req.RequestId, KindInvalidToken, "invalid token")
	}
	self.auth.ResolvePermissions(channel, self.tree)
	return self.successFrame(req.Action, req.RequestId, map[string]any{"TTL": ttl})
}

func (self *CommandProcessor) handleKuksaAuthorize(ctx context.Context, channel *Channel, req wireRequest) []byte {
	if req.ClientId == "" || req.Secret == "" {
		return self.errorFrame(req.Action, req.RequestId, KindMalformedRequest, "missing clientid/secret")
	}
	if self.daemon == nil {
		return self.errorFrame(req.Action, req.RequestId, KindDaemonUnavailable, "permission daemon not configured")
	}
	perms, ttl, err := self.daemon.Authorize(ctx, req.ClientId, req.Secret)
	if err != nil {
		if verr, ok := err.(*Error); ok && verr.Kind == KindDaemonUnavailable {
			return self.errorFrame(req.Action, req.RequestId, KindDaemonUnavailable, verr.Message)
		}
		return self.errorFrame(req.Action, req.RequestId, KindInvalidToken, "daemon denied authorization")
	}
	channel.installPermissions(perms, time.Now().Add(time.Duration(ttl)*time.Second), false)
	return self.successFrame(req.Action, req.RequestId, map[string]any{"TTL": ttl})
}

func (self *CommandProcessor) handleGet(channel *Channel, req wireRequest) []byte {
	if req.Path == "" {
		return self.errorFrame(req.Action, req.RequestId, KindMalformedRequest, "missing path")
	}
	p, err := ParsePath(req.Path)
	if err != nil {
		return self.errorFrame(req.Action, req.RequestId, KindMalformedRequest, err.Error())
	}

	leaves := self.tree.GetLeafPaths(p)
	if len(leaves) == 0 {
		return self.errorFrame(req.Action, req.RequestId, KindPathNotFound, req.Path)
	}

	var allowed, denied []Path
	for _, leaf := range leaves {
		if channel.CanRead(leaf.String()) {
			allowed = append(allowed, leaf)
		} else {
			denied = append(denied, leaf)
		}
	}
	if len(allowed) == 0 {
		return self.errorFrame(req.Action, req.RequestId, KindNoPermission, req.Path)
	}

	extra := map[string]any{}
	if !p.IsWildcard() && len(leaves) == 1 {
		view, err := self.tree.GetSignal(allowed[0])
		if err != nil {
			return self.errorFrame(req.Action, req.RequestId, KindOf(err), err.Error())
		}
		if view.HasValue {
			extra["value"] = view.Value
		} else {
			extra["value"] = noValueSentinel
		}
		extra["timestamp"] = view.Timestamp.UnixMilli()
	} else {
		values := make([]map[string]any, 0, len(allowed))
		for _, leaf := range allowed {
			view, err := self.tree.GetSignal(leaf)
			if err != nil {
				continue
			}
			entry := map[string]any{}
			if view.HasValue {
				entry[leaf.String()] = view.Value
			} else {
				entry[leaf.String()] = noValueSentinel
			}
			values = append(values, entry)
		}
		extra["value"] = values
		extra["timestamp"] = time.Now().UnixMilli()
	}
	if len(denied) > 0 {
		extra["warning"] = warningFor(denied)
	}
	return self.successFrame(req.Action, req.RequestId, extra)
}

func warningFor(denied []Path) string {
	msg := "no permission for:"
	for i, p := range denied {
		if i > 0 {
			msg += ","
		}
		msg += " " + p.String()
	}
	return msg
}

func (self *CommandProcessor) handleSet(channel *Channel, req wireRequest) []byte {
	if req.Path == "" || len(req.Value) == 0 {
		return self.errorFrame(req.Action, req.RequestId, KindMalformedRequest, "missing path/value")
	}
	p, err := ParsePath(req.Path)
	if err != nil {
		return self.errorFrame(req.Action, req.RequestId, KindMalformedRequest, err.Error())
	}

	pairs, err := self.tree.SetSignal(channel, p, req.Value)
	if err != nil {
		return self.errorFrame(req.Action, req.RequestId, KindOf(err), err.Error())
	}
	for _, pair := range pairs {
		self.subs.UpdateByUUID(pair.UUID, pair.Value, pair.Timestamp)
	}
	return self.successFrame(req.Action, req.RequestId, nil)
}

func (self *CommandProcessor) handleSubscribe(channel *Channel, req wireRequest) []byte {
	if req.Path == "" {
		return self.errorFrame(req.Action, req.RequestId, KindMalformedRequest, "missing path")
	}
	p, err := ParsePath(req.Path)
	if err != nil {
		return self.errorFrame(req.Action, req.RequestId, KindMalformedRequest, err.Error())
	}
	subscriptionId, err := self.subs.Subscribe(channel, self.tree, p)
	if err != nil {
		return self.errorFrame(req.Action, req.RequestId, KindOf(err), err.Error())
	}
	channel.recordSubscription(subscriptionId)
	return self.successFrame(req.Action, req.RequestId, map[string]any{"subscriptionId": subscriptionId})
}

func (self *CommandProcessor) handleUnsubscribe(channel *Channel, req wireRequest) []byte {
	if !channel.ownsSubscription(req.SubscriptionId) {
		return self.errorFrame(req.Action, req.RequestId, KindMalformedRequest, "unknown subscriptionId")
	}
	self.subs.Unsubscribe(req.SubscriptionId)
	channel.forgetSubscription(req.SubscriptionId)
	return self.successFrame(req.Action, req.RequestId, map[string]any{"subscriptionId": req.SubscriptionId})
}

func (self *CommandProcessor) handleGetMetadata(channel *Channel, req wireRequest) []byte {
	if req.Path == "" {
		return self.errorFrame(req.Action, req.RequestId, KindMalformedRequest, "missing path")
	}
	p, err := ParsePath(req.Path)
	if err != nil {
		return self.errorFrame(req.Action, req.RequestId, KindMalformedRequest, err.Error())
	}
	metadata, err := self.tree.GetMetadata(p)
	if err != nil {
		return self.errorFrame(req.Action, req.RequestId, KindOf(err), err.Error())
	}
	return self.successFrame(req.Action, req.RequestId, map[string]any{"metadata": metadata})
}

func (self *CommandProcessor) successFrame(action string, requestId json.RawMessage, extra map[string]any) []byte {
	resp := map[string]any{
		"action":    action,
		"timestamp": time.Now().UnixMilli(),
	}
	if requestId != nil {
		resp["requestId"] = requestId
	}
	for k, v := range extra {
		resp[k] = v
	}
	b, err := marshalIndent(resp)
	if err != nil {
		Errorf("failed to encode response: %s", err)
		return nil
	}
	return b
}

func (self *CommandProcessor) errorFrame(action string, requestId json.RawMessage, kind Kind, message string) []byte {
	resp := map[string]any{
		"timestamp": time.Now().UnixMilli(),
		"error": map[string]any{
			"number": codeFor(kind),
			"reason": reasonFor(kind),
			"message": message,
		},
	}
	if action != "" {
		resp["action"] = action
	}
	if requestId != nil {
		resp["requestId"] = requestId
	}
	b, err := marshalIndent(resp)
	if err != nil {
		Errorf("failed to encode error response: %s", err)
		return nil
	}
	return b
}

// codeFor / reasonFor implement the HTTP-like shaping table in spec.md §7.
func codeFor(kind Kind) int {
	switch kind {
	case KindMalformedRequest, KindOutOfBounds, KindMalformedPath, KindSchemaError, KindPathNotValid, KindNotALeaf, KindNotSingleSignal, KindTypeMismatch:
		return 400
	case KindNoPermission:
		return 403
	case KindPathNotFound:
		return 404
	case KindInvalidToken:
		return 401
	case KindDaemonUnavailable:
		return 501
	default:
		return 401
	}
}

func reasonFor(kind Kind) string {
	switch kind {
	case KindMalformedRequest, KindMalformedPath, KindSchemaError, KindPathNotValid, KindNotALeaf, KindNotSingleSignal, KindTypeMismatch:
		return "Bad Request"
	case KindOutOfBounds:
		return "Value passed is out of bounds"
	case KindNoPermission:
		return "Forbidden"
	case KindPathNotFound:
		return "Not Found"
	case KindInvalidToken:
		return "Invalid Token"
	case KindDaemonUnavailable:
		return "Permission daemon unavailable"
	default:
		return "Unknown Error"
	}
}
