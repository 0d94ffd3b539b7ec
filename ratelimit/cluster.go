package ratelimit

import (
	"context"
	"strconv"
	"time"

	"goa.design/pulse/rmap"
)

// clusterMap is the subset of rmap.Map the coordinator needs, mirroring
// the teacher's own narrow interface over *rmap.Map so this package stays
// unit-testable without a live Redis-backed Pulse deployment.
type clusterMap interface {
	Get(key string) (string, bool)
	SetIfNotExists(ctx context.Context, key, value string) (bool, error)
	TestAndSet(ctx context.Context, key, test, value string) (string, error)
}

type rmapClusterMap struct {
	m *rmap.Map
}

func (c *rmapClusterMap) Get(key string) (string, bool) { return c.m.Get(key) }

func (c *rmapClusterMap) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	return c.m.SetIfNotExists(ctx, key, value)
}

func (c *rmapClusterMap) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	return c.m.TestAndSet(ctx, key, test, value)
}

// RmapCoordinator shares per-client deny-until markers across processes
// using a Pulse replicated map, so a burst denied on one gateway instance
// is denied cluster-wide until the window passes.
type RmapCoordinator struct {
	cm clusterMap
}

// NewRmapCoordinator builds a coordinator over m. Pass the same *rmap.Map
// instance across every gateway process in the cluster.
func NewRmapCoordinator(m *rmap.Map) *RmapCoordinator {
	return &RmapCoordinator{cm: &rmapClusterMap{m: m}}
}

func (c *RmapCoordinator) Denied(ctx context.Context, clientID string) (time.Time, bool) {
	v, ok := c.cm.Get(clientID)
	if !ok {
		return time.Time{}, false
	}
	unixNano, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	until := time.Unix(0, unixNano)
	return until, time.Now().Before(until)
}

func (c *RmapCoordinator) MarkDenied(ctx context.Context, clientID string, until time.Time) {
	val := strconv.FormatInt(until.UnixNano(), 10)
	if ok, err := c.cm.SetIfNotExists(ctx, clientID, val); err == nil && ok {
		return
	}
	if cur, ok := c.cm.Get(clientID); ok {
		_, _ = c.cm.TestAndSet(ctx, clientID, cur, val)
	}
}
