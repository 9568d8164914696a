package vss

import (
	"math/rand"
	"sync"
	"time"
)

// ClientMask partitions the subscription-id space between client id (high)
// and random suffix (low), per spec.md §3. 10^7 keeps random-suffix
// collisions within one client practically impossible and leaves room in
// the uint32 range for client ids 0 through 429 (math.MaxUint32 / ClientMask).
//
// Channel.ConnId is always allocated as a multiple of ClientMask (see
// Transport.handleConnection), so subscription_id = conn_id + r with r drawn from
// [0, ClientMask) and conn_id / ClientMask recovers the same client id that
// was used to allocate conn_id in the first place — the invariant in
// spec.md §3 and §8 property 3.
const ClientMask uint32 = 10_000_000

// changeEvent is one buffered (subscription_id, value, timestamp), per
// spec.md §3.
type changeEvent struct {
	subscriptionId uint32
	value          Value
	timestamp      time.Time
}

// Sender is the transport-side hook the worker loop calls to deliver a
// formatted subscribe frame to a connection. It must not block the
// subscription mutex; the worker calls it after releasing the lock, per
// spec.md §4.4.
type Sender interface {
	Send(connId uint32, frame []byte) error
}

// SubscriptionEngine fans value changes out to per-client subscription
// handles with at-most-one background delivery goroutine, per spec.md
// §4.4. It is grounded on the corpus's CallbackList/RouteManager idiom
// (connect/util.go, connect/transfer_route_manager.go): a single mutex
// guarding plain maps, with the goroutine structured as an explicit
// run-flag loop rather than relying on channel-close semantics, to keep
// Stop's "discard pending events" contract simple.
type SubscriptionEngine struct {
	mutex sync.Mutex
	// signal_uuid -> subscription_id -> client_id
	byUUID map[string]map[uint32]uint32
	buffer []changeEvent
	running bool
	done    chan struct{}

	sender Sender
	rand   *rand.Rand
}

func NewSubscriptionEngine(sender Sender) *SubscriptionEngine {
	return &SubscriptionEngine{
		byUUID: map[string]map[uint32]uint32{},
		sender: sender,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start launches the single background delivery goroutine. Calling Start
// twice without an intervening Stop is a programmer error.
func (self *SubscriptionEngine) Start() {
	self.mutex.Lock()
	self.running = true
	self.done = make(chan struct{})
	self.mutex.Unlock()

	go self.run()
}

// Stop sets the run flag false and joins the worker. Pending buffered
// events are discarded, per spec.md §4.4.
func (self *SubscriptionEngine) Stop() {
	self.mutex.Lock()
	self.running = false
	done := self.done
	self.buffer = nil
	self.mutex.Unlock()

	if done != nil {
		<-done
	}
}

// Subscribe resolves path to a single leaf, checks read permission, and
// allocates a subscription_id, per spec.md §4.4.
func (self *SubscriptionEngine) Subscribe(channel *Channel, tree *SignalTree, p Path) (uint32, error) {
	if !channel.CanRead(p.String()) {
		return 0, newError(KindNoPermission, "%s", p.String())
	}
	uuid, err := tree.NodeUUID(p)
	if err != nil {
		return 0, err
	}

	self.mutex.Lock()
	defer self.mutex.Unlock()

	r := uint32(self.rand.Int63n(int64(ClientMask)))
	subscriptionId := channel.ConnId + r

	handles, ok := self.byUUID[uuid]
	if !ok {
		handles = map[uint32]uint32{}
		self.byUUID[uuid] = handles
	}
	handles[subscriptionId] = channel.ConnId / ClientMask
	return subscriptionId, nil
}

// Unsubscribe removes subscriptionId from every uuid-keyed inner map.
// Unknown ids are a silent no-op, per spec.md §4.4.
func (self *SubscriptionEngine) Unsubscribe(subscriptionId uint32) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for uuid, handles := range self.byUUID {
		if _, ok := handles[subscriptionId]; ok {
			delete(handles, subscriptionId)
			if len(handles) == 0 {
				delete(self.byUUID, uuid)
			}
		}
	}
}

// UnsubscribeAll removes every subscription whose stored client id equals
// connId / ClientMask, per spec.md §4.4 — called when a connection closes.
func (self *SubscriptionEngine) UnsubscribeAll(connId uint32) {
	clientId := connId / ClientMask

	self.mutex.Lock()
	defer self.mutex.Unlock()

	for uuid, handles := range self.byUUID {
		for subscriptionId, c := range handles {
			if c == clientId {
				delete(handles, subscriptionId)
			}
		}
		if len(handles) == 0 {
			delete(self.byUUID, uuid)
		}
	}
}

// SubscriptionCount returns the total number of live subscription handles
// across every signal, for the admin surface's /stats endpoint.
func (self *SubscriptionEngine) SubscriptionCount() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	count := 0
	for _, handles := range self.byUUID {
		count += len(handles)
	}
	return count
}

// UpdateByUUID enqueues (subscription_id, value, timestamp) for every
// subscriber of uuid, using the timestamp of the write that produced value. Called synchronously from SignalTree.SetSignal's
// results; it never blocks, per spec.md §4.4.
func (self *SubscriptionEngine) UpdateByUUID(uuid string, value Value, timestamp time.Time) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for subscriptionId := range self.byUUID[uuid] {
		self.buffer = append(self.buffer, changeEvent{
			subscriptionId: subscriptionId,
			value:          value,
			timestamp:      timestamp,
		})
	}
}

// run is the single background delivery goroutine: pop one event under the
// mutex, release it, format and send. Per subscription_id, delivery order
// matches enqueue order; no ordering is promised across distinct ids.
func (self *SubscriptionEngine) run() {
	defer close(self.done)

	for {
		self.mutex.Lock()
		if !self.running {
			self.mutex.Unlock()
			return
		}
		if len(self.buffer) == 0 {
			self.mutex.Unlock()
			time.Sleep(10 * time.Millisecond)
			continue
		}
		event := self.buffer[0]
		self.buffer = self.buffer[1:]
		self.mutex.Unlock()

		self.deliver(event)
	}
}

// subscribeFrame is the event frame shape spec.md §6 defines for
// subscription push delivery.
type subscribeFrame struct {
	Action         string `json:"action"`
	SubscriptionId uint32 `json:"subscriptionId"`
	Value          Value  `json:"value"`
	Timestamp      int64  `json:"timestamp"`
}

func encodeSubscribeFrame(event changeEvent) ([]byte, error) {
	return marshalIndent(subscribeFrame{
		Action:         "subscribe",
		SubscriptionId: event.subscriptionId,
		Value:          event.value,
		Timestamp:      event.timestamp.UnixMilli(),
	})
}

func (self *SubscriptionEngine) deliver(event changeEvent) {
	frame, err := encodeSubscribeFrame(event)
	if err != nil {
		Errorf("failed to encode subscribe frame for subscription %d: %s", event.subscriptionId, err)
		return
	}
	connId := (event.subscriptionId / ClientMask) * ClientMask
	if err := self.sender.Send(connId, frame); err != nil {
		Infof("dropped subscribe frame for subscription %d: %s", event.subscriptionId, err)
	}
}
