// Package registry publishes this node's presence to etcd so ops
// tooling can see which herd members are up. The herd topology itself
// is fixed at compile time and never read from etcd; registration is
// purely observational and best-effort.
package registry

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/herd/nodes/"

// Registration keeps one node's etcd lease alive until Close.
type Registration struct {
	cli     *clientv3.Client
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
	log     *zap.Logger
}

// Register puts /herd/nodes/<name> -> addr under a ttl-second lease
// and keeps the lease alive in the background.
func Register(ctx context.Context, endpoints []string, name, addr string, ttl int64, log *zap.Logger) (*Registration, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect: %w", err)
	}

	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("registry: grant lease: %w", err)
	}
	if _, err := cli.Put(ctx, keyPrefix+name, addr, clientv3.WithLease(lease.ID)); err != nil {
		cli.Close()
		return nil, fmt.Errorf("registry: put: %w", err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		cli.Close()
		return nil, fmt.Errorf("registry: keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
	}()

	log.Info("registered with etcd",
		zap.String("key", keyPrefix+name),
		zap.String("addr", addr))
	return &Registration{cli: cli, leaseID: lease.ID, cancel: cancel, log: log}, nil
}

// Close revokes the lease and releases the client.
func (r *Registration) Close() {
	r.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := r.cli.Revoke(ctx, r.leaseID); err != nil {
		r.log.Warn("lease revoke failed", zap.Error(err))
	}
	r.cli.Close()
}
