package vss

import (
	"strings"
	"sync"
	"time"
)

// permission is the {read, write} pair installed per path-pattern by
// Authenticator.Validate, per spec.md §4.3's claim shape.
type permission struct {
	read  bool
	write bool
}

// Channel is per-connection state: id, authorized flag, permissions, and
// modify-tree capability, per spec.md §4.6. Mutation is confined to the
// connection's own handling goroutine; the subscription worker only ever
// captures ConnId by value, never dereferences a live Channel.
type Channel struct {
	mutex sync.Mutex

	ConnId     uint32
	Authorized bool
	ModifyTree bool

	permissions map[string]permission
	expiresAt   time.Time

	// subscriptions is touched only from the connection's own handling
	// goroutine (spec.md §4.6), so it needs no lock of its own.
	subscriptions map[uint32]bool
}

func NewChannel(connId uint32) *Channel {
	return &Channel{
		ConnId:        connId,
		permissions:   map[string]permission{},
		subscriptions: map[uint32]bool{},
	}
}

func (self *Channel) ownsSubscription(id uint32) bool {
	return self.subscriptions[id]
}

func (self *Channel) recordSubscription(id uint32) {
	self.subscriptions[id] = true
}

func (self *Channel) forgetSubscription(id uint32) {
	delete(self.subscriptions, id)
}

// installPermissions replaces the channel's permission set and marks it
// authorized, called only from Authenticator.Validate.
func (self *Channel) installPermissions(perms map[string]permission, expiresAt time.Time, modifyTree bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.permissions = perms
	self.expiresAt = expiresAt
	self.Authorized = true
	self.ModifyTree = modifyTree
}

func (self *Channel) isStillValid(now time.Time) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.Authorized && now.Before(self.expiresAt)
}

func (self *Channel) CanRead(path string) bool {
	return self.check(path, func(p permission) bool { return p.read })
}

func (self *Channel) CanWrite(path string) bool {
	return self.check(path, func(p permission) bool { return p.write })
}

// check tests path against every installed pattern. Patterns are either an
// exact dotted path or end in ".*" meaning "any path below the prefix"
// (the prefix path itself is not matched), matching the expansion
// resolve_permissions performs at token install time (spec.md §4.3 / §9).
func (self *Channel) check(path string, pick func(permission) bool) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for pattern, perm := range self.permissions {
		if !pick(perm) {
			continue
		}
		if pattern == path {
			return true
		}
		if strings.HasSuffix(pattern, ".*") {
			prefix := pattern[:len(pattern)-1] // keep trailing '.'
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
	}
	return false
}
