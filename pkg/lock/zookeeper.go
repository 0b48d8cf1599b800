package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/google/uuid"
)

// zkConn is the subset of *zk.Conn the locker uses.
type zkConn interface {
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Get(path string) ([]byte, *zk.Stat, error)
	Set(path string, data []byte, version int32) (*zk.Stat, error)
	Delete(path string, version int32) error
}

// zkLockData is stored in each lock node.
type zkLockData struct {
	Owner     string    `json:"owner"`
	LockUntil time.Time `json:"lock_until"`
}

// ZookeeperLocker implements Locker with one persistent znode per name under
// root. The node's data carries a lock-until time; a node past it is stale
// and may be taken over with a versioned Set.
type ZookeeperLocker struct {
	conn zkConn
	root string
	now  func() time.Time
}

// NewZookeeperLocker creates a locker rooted at root, e.g. "/locks/inventory".
func NewZookeeperLocker(conn zkConn, root string) *ZookeeperLocker {
	return &ZookeeperLocker{conn: conn, root: strings.TrimSuffix(root, "/"), now: time.Now}
}

// ConnectZookeeper dials the ensemble and waits until a session is
// established or ctx ends.
func ConnectZookeeper(ctx context.Context, servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect zookeeper: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return nil, fmt.Errorf("connect zookeeper: %w", ctx.Err())
		case ev, ok := <-events:
			if !ok {
				return nil, errors.New("connect zookeeper: session event stream closed")
			}
			if ev.State == zk.StateHasSession {
				return conn, nil
			}
		}
	}
}

func (l *ZookeeperLocker) TryAcquire(_ context.Context, name string, opts LeaseOptions) (Lease, bool, error) {
	if err := opts.Validate(); err != nil {
		return nil, false, err
	}

	nodePath := l.root + "/" + name
	now := l.now()
	data := zkLockData{Owner: uuid.NewString(), LockUntil: now.Add(opts.MaxHold)}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, false, err
	}

	_, err = l.conn.Create(nodePath, raw, 0, zk.WorldACL(zk.PermAll))
	if errors.Is(err, zk.ErrNoNode) {
		if err := l.ensurePath(l.root); err != nil {
			return nil, false, err
		}
		_, err = l.conn.Create(nodePath, raw, 0, zk.WorldACL(zk.PermAll))
	}

	switch {
	case err == nil:
		return l.lease(nodePath, data, 0, opts, now), true, nil
	case !errors.Is(err, zk.ErrNodeExists):
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}

	current, stat, err := l.conn.Get(nodePath)
	if errors.Is(err, zk.ErrNoNode) {
		// Deleted between Create and Get; the next tick will take it.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read lock %s: %w", name, err)
	}

	var held zkLockData
	if err := json.Unmarshal(current, &held); err == nil && now.Before(held.LockUntil) {
		return nil, false, nil
	}

	stat, err = l.conn.Set(nodePath, raw, stat.Version)
	if errors.Is(err, zk.ErrBadVersion) || errors.Is(err, zk.ErrNoNode) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("take over lock %s: %w", name, err)
	}
	return l.lease(nodePath, data, stat.Version, opts, now), true, nil
}

func (l *ZookeeperLocker) lease(nodePath string, data zkLockData, version int32, opts LeaseOptions, acquiredAt time.Time) *zkLease {
	return &zkLease{locker: l, path: nodePath, data: data, version: version, opts: opts, acquiredAt: acquiredAt}
}

// ensurePath creates every missing component of p.
func (l *ZookeeperLocker) ensurePath(p string) error {
	cur := ""
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		cur = path.Join("/", cur, part)
		_, err := l.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("create lock path %s: %w", cur, err)
		}
	}
	return nil
}

type zkLease struct {
	locker     *ZookeeperLocker
	path       string
	data       zkLockData
	version    int32
	opts       LeaseOptions
	acquiredAt time.Time
}

func (z *zkLease) Release(_ context.Context) error {
	now := z.locker.now()
	if keep := remainingMinHold(z.acquiredAt, now, z.opts.MinHold); keep > 0 {
		return z.write(now.Add(keep))
	}

	err := z.locker.conn.Delete(z.path, z.version)
	if errors.Is(err, zk.ErrBadVersion) || errors.Is(err, zk.ErrNoNode) {
		return ErrLeaseLost
	}
	if err != nil {
		return fmt.Errorf("release lock %s: %w", z.path, err)
	}
	return nil
}

func (z *zkLease) Renew(_ context.Context) error {
	return z.write(z.locker.now().Add(z.opts.MaxHold))
}

func (z *zkLease) write(until time.Time) error {
	data := zkLockData{Owner: z.data.Owner, LockUntil: until}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	stat, err := z.locker.conn.Set(z.path, raw, z.version)
	if errors.Is(err, zk.ErrBadVersion) || errors.Is(err, zk.ErrNoNode) {
		return ErrLeaseLost
	}
	if err != nil {
		return fmt.Errorf("update lock %s: %w", z.path, err)
	}
	z.data = data
	z.version = stat.Version
	return nil
}

// ZookeeperHealthy returns an error unless conn currently holds a session.
func ZookeeperHealthy(conn interface{ State() zk.State }) error {
	if s := conn.State(); s != zk.StateHasSession {
		return fmt.Errorf("zookeeper session state %s", s)
	}
	return nil
}
