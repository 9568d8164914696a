package vss

import (
	"crypto/rsa"
	"sync/atomic"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// vssClaims is the minimum claim shape spec.md §4.3 requires: expiry,
// subject, and a "kuksa-vss" map of path-pattern to "r"|"w"|"rw".
type vssClaims struct {
	gojwt.RegisteredClaims
	KuksaVSS map[string]string `json:"kuksa-vss"`
}

// Authenticator parses and verifies signed capability tokens and answers
// read/write permission questions for a Channel, per spec.md §4.3. The
// verification key is stored behind an atomic pointer so UpdatePubKey can
// be called concurrently with Validate without a lock — readers may
// observe either the old or the new key, which spec.md §5 explicitly
// allows.
type Authenticator struct {
	pubKey atomic.Pointer[rsa.PublicKey]
}

func NewAuthenticator() *Authenticator {
	return &Authenticator{}
}

// UpdatePubKey replaces the verification key used for subsequent
// validations.
func (self *Authenticator) UpdatePubKey(key *rsa.PublicKey) {
	self.pubKey.Store(key)
}

// Validate verifies token's RS256 signature, parses its claims, installs
// permissions into channel, and marks it authorized. It returns the number
// of seconds until expiry, or -1 on any failure; a -1 return never
// mutates channel, per spec.md §4.3.
func (self *Authenticator) Validate(channel *Channel, token string) int64 {
	key := self.pubKey.Load()
	if key == nil {
		Infof("authorize rejected: no public key installed")
		return -1
	}

	claims := &vssClaims{}
	parsed, err := gojwt.ParseWithClaims(token, claims, func(t *gojwt.Token) (any, error) {
		if _, ok := t.Method.(*gojwt.SigningMethodRSA); !ok {
			return nil, newError(KindInvalidToken, "unsupported signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil || !parsed.Valid {
		Infof("authorize rejected: %v", err)
		return -1
	}

	if claims.ExpiresAt == nil {
		Infof("authorize rejected: token has no exp claim")
		return -1
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		Infof("authorize rejected: token expired")
		return -1
	}

	perms := map[string]permission{}
	for pattern, mode := range claims.KuksaVSS {
		p := permission{}
		for _, c := range mode {
			switch c {
			case 'r':
				p.read = true
			case 'w':
				p.write = true
			}
		}
		perms[pattern] = p
	}

	channel.installPermissions(perms, claims.ExpiresAt.Time, false)
	return int64(ttl / time.Second)
}

// IsStillValid compares the current time with channel's cached expiry.
func (self *Authenticator) IsStillValid(channel *Channel) bool {
	return channel.isStillValid(time.Now())
}

// ResolvePermissions expands any wildcarded path patterns in channel's
// claim against tree so that CanRead/CanWrite become O(1) set-membership
// checks at runtime, per spec.md §4.3 and §9.
func (self *Authenticator) ResolvePermissions(channel *Channel, tree *SignalTree) {
	channel.mutex.Lock()
	patterns := make(map[string]permission, len(channel.permissions))
	for pattern, perm := range channel.permissions {
		patterns[pattern] = perm
	}
	channel.mutex.Unlock()

	expanded := map[string]permission{}
	for pattern, perm := range patterns {
		if !containsWildcard(pattern) {
			expanded[pattern] = mergePermission(expanded[pattern], perm)
			continue
		}
		p, err := ParsePath(pattern)
		if err != nil {
			continue
		}
		for _, leaf := range tree.GetLeafPaths(p) {
			key := leaf.String()
			expanded[key] = mergePermission(expanded[key], perm)
		}
	}

	channel.mutex.Lock()
	channel.permissions = expanded
	channel.mutex.Unlock()
}

func containsWildcard(pattern string) bool {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '*' {
			return true
		}
	}
	return false
}

func mergePermission(a, b permission) permission {
	return permission{read: a.read || b.read, write: a.write || b.write}
}
