package audio

import (
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/pborman/uuid"
)

const handlePrefix = "blob:"

// Handle references a playable in-memory audio resource.
type Handle string

func (h Handle) IsBlob() bool {
	return strings.HasPrefix(string(h), handlePrefix)
}

type resource struct {
	data  []byte
	mime  string
	owner string
}

// Resources issues blob handles and guarantees their release. Every handle
// is owned by at most one message key; releasing the owner revokes it.
type Resources struct {
	sync.Mutex
	items map[Handle]*resource
}

func NewResources() *Resources {
	return &Resources{items: make(map[Handle]*resource)}
}

func (r *Resources) Create(data []byte, mime string) Handle {
	h := Handle(handlePrefix + uuid.New())
	r.Lock()
	r.items[h] = &resource{data: data, mime: mime}
	r.Unlock()
	glog.V(5).Infof("audio: created %s (%d bytes)", h, len(data))
	return h
}

func (r *Resources) Data(h Handle) ([]byte, string, bool) {
	r.Lock()
	defer r.Unlock()
	res, ok := r.items[h]
	if !ok {
		return nil, "", false
	}
	return res.data, res.mime, true
}

// Revoke is a no-op for unknown or already revoked handles.
func (r *Resources) Revoke(h Handle) bool {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.items[h]; !ok {
		return false
	}
	delete(r.items, h)
	glog.V(5).Infof("audio: revoked %s", h)
	return true
}

// Assign binds a handle to the message key that owns it.
func (r *Resources) Assign(h Handle, owner string) bool {
	r.Lock()
	defer r.Unlock()
	res, ok := r.items[h]
	if !ok {
		return false
	}
	res.owner = owner
	return true
}

// Reassign moves every handle owned by from to to, e.g. after a local id is
// replaced by the server id.
func (r *Resources) Reassign(from, to string) int {
	r.Lock()
	defer r.Unlock()
	n := 0
	for _, res := range r.items {
		if res.owner == from {
			res.owner = to
			n++
		}
	}
	return n
}

// ReleaseOwner revokes every handle owned by owner.
func (r *Resources) ReleaseOwner(owner string) int {
	r.Lock()
	defer r.Unlock()
	n := 0
	for h, res := range r.items {
		if res.owner == owner {
			delete(r.items, h)
			n++
		}
	}
	return n
}

func (r *Resources) RevokeAll() int {
	r.Lock()
	defer r.Unlock()
	n := len(r.items)
	r.items = make(map[Handle]*resource)
	return n
}

func (r *Resources) Len() int {
	r.Lock()
	defer r.Unlock()
	return len(r.items)
}
