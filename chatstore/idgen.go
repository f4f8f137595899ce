package chatstore

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

const localIDPrefix = "local-"

// IDGen generates timestamp derived, strictly increasing local message ids.
type IDGen struct {
	sync.Mutex
	last int64
	now  func() time.Time
}

func NewIDGen(now func() time.Time) *IDGen {
	if now == nil {
		now = time.Now
	}
	return &IDGen{now: now}
}

func (g *IDGen) Next() string {
	g.Lock()
	defer g.Unlock()
	v := g.now().UnixNano()
	if v <= g.last {
		v = g.last + 1
	}
	g.last = v
	return localIDPrefix + strconv.FormatInt(v, 10)
}

func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}
