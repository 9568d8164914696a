package vss

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func decodeFrame(t *testing.T, frame []byte) map[string]any {
	t.Helper()
	var m map[string]any
	assert.Equal(t, json.Unmarshal(frame, &m), nil)
	return m
}

func TestProcessUnknownActionReturnsNil(t *testing.T) {
	tree := loadTestTree(t)
	proc := NewCommandProcessor(tree, NewAuthenticator(), NewSubscriptionEngine(newFakeSender()), nil)
	channel := NewChannel(1 * ClientMask)

	frame := proc.Process(context.Background(), channel, []byte(`{"action":"dance"}`))
	assert.Equal(t, frame, []byte(nil))
}

func TestProcessMalformedRequestOmitsRequestId(t *testing.T) {
	tree := loadTestTree(t)
	proc := NewCommandProcessor(tree, NewAuthenticator(), NewSubscriptionEngine(newFakeSender()), nil)
	channel := NewChannel(1 * ClientMask)

	frame := proc.Process(context.Background(), channel, []byte(`not json`))
	resp := decodeFrame(t, frame)
	_, hasRequestId := resp["requestId"]
	assert.Equal(t, hasRequestId, false)
	errObj, ok := resp["error"].(map[string]any)
	assert.Equal(t, ok, true)
	assert.Equal(t, errObj["number"], float64(400))
}

func TestProcessGetEchoesRequestId(t *testing.T) {
	tree := loadTestTree(t)
	proc := NewCommandProcessor(tree, NewAuthenticator(), NewSubscriptionEngine(newFakeSender()), nil)
	channel := fullAccessChannel()

	req := `{"action":"get","requestId":"req-1","path":"Vehicle.Acceleration.Vertical"}`
	frame := proc.Process(context.Background(), channel, []byte(req))
	resp := decodeFrame(t, frame)
	assert.Equal(t, resp["requestId"], "req-1")
	assert.Equal(t, resp["value"], noValueSentinel)
}

func TestProcessGetWithPartialPermissionWarns(t *testing.T) {
	tree := loadTestTree(t)
	proc := NewCommandProcessor(tree, NewAuthenticator(), NewSubscriptionEngine(newFakeSender()), nil)
	channel := NewChannel(2 * ClientMask)
	channel.installPermissions(map[string]permission{
		"Vehicle.Acceleration.Vertical": {read: true},
	}, time.Now().Add(time.Hour), false)

	req := `{"action":"get","requestId":"req-2","path":"Vehicle.Acceleration.*"}`
	frame := proc.Process(context.Background(), channel, []byte(req))
	resp := decodeFrame(t, frame)
	warning, ok := resp["warning"].(string)
	assert.Equal(t, ok, true)
	assert.NotEqual(t, warning, "")
}

func TestProcessGetDeniedEntirelyReturnsForbidden(t *testing.T) {
	tree := loadTestTree(t)
	proc := NewCommandProcessor(tree, NewAuthenticator(), NewSubscriptionEngine(newFakeSender()), nil)
	channel := NewChannel(3 * ClientMask)

	req := `{"action":"get","requestId":"req-3","path":"Vehicle.Acceleration.Vertical"}`
	frame := proc.Process(context.Background(), channel, []byte(req))
	resp := decodeFrame(t, frame)
	errObj, ok := resp["error"].(map[string]any)
	assert.Equal(t, ok, true)
	assert.Equal(t, errObj["number"], float64(403))
}

func TestProcessSetThenGetReflectsValue(t *testing.T) {
	tree := loadTestTree(t)
	proc := NewCommandProcessor(tree, NewAuthenticator(), NewSubscriptionEngine(newFakeSender()), nil)
	channel := fullAccessChannel()

	setReq := `{"action":"set","requestId":"s1","path":"Vehicle.Acceleration.Vertical","value":5}`
	setResp := decodeFrame(t, proc.Process(context.Background(), channel, []byte(setReq)))
	_, hasError := setResp["error"]
	assert.Equal(t, hasError, false)

	getReq := `{"action":"get","requestId":"g1","path":"Vehicle.Acceleration.Vertical"}`
	getResp := decodeFrame(t, proc.Process(context.Background(), channel, []byte(getReq)))
	assert.Equal(t, getResp["value"], float64(5))
}

func TestProcessSetTypeMismatchReturnsBadRequest(t *testing.T) {
	tree := loadTestTree(t)
	proc := NewCommandProcessor(tree, NewAuthenticator(), NewSubscriptionEngine(newFakeSender()), nil)
	channel := fullAccessChannel()

	req := `{"action":"set","requestId":"s1","path":"Vehicle.Acceleration.Vertical","value":true}`
	resp := decodeFrame(t, proc.Process(context.Background(), channel, []byte(req)))
	errObj, ok := resp["error"].(map[string]any)
	assert.Equal(t, ok, true)
	assert.Equal(t, errObj["number"], float64(400))
}

func TestProcessSubscribeThenSetDeliversUpdate(t *testing.T) {
	tree := loadTestTree(t)
	sender := newFakeSender()
	subs := NewSubscriptionEngine(sender)
	subs.Start()
	defer subs.Stop()

	proc := NewCommandProcessor(tree, NewAuthenticator(), subs, nil)
	channel := fullAccessChannel()
	channel.ConnId = 6 * ClientMask

	subReq := `{"action":"subscribe","requestId":"sub1","path":"Vehicle.Acceleration.Vertical"}`
	subResp := decodeFrame(t, proc.Process(context.Background(), channel, []byte(subReq)))
	_, hasError := subResp["error"]
	assert.Equal(t, hasError, false)

	setReq := `{"action":"set","requestId":"s1","path":"Vehicle.Acceleration.Vertical","value":11}`
	setResp := decodeFrame(t, proc.Process(context.Background(), channel, []byte(setReq)))
	_, hasSetError := setResp["error"]
	assert.Equal(t, hasSetError, false)

	waitUntil(t, time.Second, func() bool { return sender.countFor(channel.ConnId) == 1 })
}

func TestProcessUnsubscribeUnknownIdIsMalformed(t *testing.T) {
	tree := loadTestTree(t)
	proc := NewCommandProcessor(tree, NewAuthenticator(), NewSubscriptionEngine(newFakeSender()), nil)
	channel := fullAccessChannel()

	req := `{"action":"unsubscribe","requestId":"u1","subscriptionId":999}`
	resp := decodeFrame(t, proc.Process(context.Background(), channel, []byte(req)))
	errObj, ok := resp["error"].(map[string]any)
	assert.Equal(t, ok, true)
	assert.Equal(t, errObj["number"], float64(400))
}

func TestProcessKuksaAuthorizeWithoutDaemonConfigured(t *testing.T) {
	tree := loadTestTree(t)
	proc := NewCommandProcessor(tree, NewAuthenticator(), NewSubscriptionEngine(newFakeSender()), nil)
	channel := NewChannel(8 * ClientMask)

	req := `{"action":"kuksa-authorize","requestId":"k1","clientid":"c","secret":"s"}`
	resp := decodeFrame(t, proc.Process(context.Background(), channel, []byte(req)))
	errObj, ok := resp["error"].(map[string]any)
	assert.Equal(t, ok, true)
	assert.Equal(t, errObj["number"], float64(501))
}
