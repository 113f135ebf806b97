package config

import (
	"context"
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"
	consulapi "github.com/hashicorp/consul/api"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// The remote providers implement koanf's Provider (ReadBytes) plus the
// watchable interface used by Loader.watch. Each stores the raw YAML
// document under a single key.

// ConsulProvider reads the document from a Consul KV key.
type ConsulProvider struct {
	kv  *consulapi.KV
	key string
}

func NewConsulProvider(address, key string) (*ConsulProvider, error) {
	if key == "" {
		return nil, fmt.Errorf("consul key is required")
	}
	cfg := consulapi.DefaultConfig()
	cfg.Address = address
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to consul at %s: %w", address, err)
	}
	return &ConsulProvider{kv: client.KV(), key: key}, nil
}

func (p *ConsulProvider) ReadBytes() ([]byte, error) {
	pair, _, err := p.kv.Get(p.key, nil)
	if err != nil {
		return nil, fmt.Errorf("read consul key %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", p.key)
	}
	return pair.Value, nil
}

func (p *ConsulProvider) Read() (map[string]any, error) {
	return nil, fmt.Errorf("consul provider does not support Read, use ReadBytes with a parser")
}

// Watch long-polls the key via Consul blocking queries.
func (p *ConsulProvider) Watch(cb func(event any, err error)) error {
	var lastIndex uint64
	for {
		pair, meta, err := p.kv.Get(p.key, &consulapi.QueryOptions{
			WaitIndex: lastIndex,
			WaitTime:  5 * time.Minute,
		})
		if err != nil {
			cb(nil, fmt.Errorf("watch consul key %s: %w", p.key, err))
			time.Sleep(LoadTimeout)
			continue
		}
		if pair == nil {
			cb(nil, fmt.Errorf("consul key %s was deleted", p.key))
			return nil
		}
		if meta.LastIndex != lastIndex {
			if lastIndex != 0 {
				cb(pair.Value, nil)
			}
			lastIndex = meta.LastIndex
		}
	}
}

// EtcdProvider reads the document from an etcd key.
type EtcdProvider struct {
	client *clientv3.Client
	key    string
}

func NewEtcdProvider(endpoints []string, key string) (*EtcdProvider, error) {
	if key == "" {
		return nil, fmt.Errorf("etcd key is required")
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: LoadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to etcd: %w", err)
	}
	return &EtcdProvider{client: client, key: key}, nil
}

func (p *EtcdProvider) ReadBytes() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), LoadTimeout)
	defer cancel()
	resp, err := p.client.Get(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("read etcd key %s: %w", p.key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("etcd key %s not found", p.key)
	}
	return resp.Kvs[0].Value, nil
}

func (p *EtcdProvider) Read() (map[string]any, error) {
	return nil, fmt.Errorf("etcd provider does not support Read, use ReadBytes with a parser")
}

func (p *EtcdProvider) Watch(cb func(event any, err error)) error {
	watchCh := p.client.Watch(context.Background(), p.key)
	for resp := range watchCh {
		if err := resp.Err(); err != nil {
			cb(nil, fmt.Errorf("watch etcd key %s: %w", p.key, err))
			continue
		}
		for _, ev := range resp.Events {
			if ev.Type == clientv3.EventTypeDelete {
				cb(nil, fmt.Errorf("etcd key %s was deleted", p.key))
				return nil
			}
			cb(ev.Kv.Value, nil)
		}
	}
	return nil
}

// Close releases the etcd client.
func (p *EtcdProvider) Close() error {
	return p.client.Close()
}

// ZookeeperProvider reads the document from a zookeeper node.
type ZookeeperProvider struct {
	conn *zk.Conn
	path string
}

func NewZookeeperProvider(endpoints []string, path string) (*ZookeeperProvider, error) {
	if path == "" {
		return nil, fmt.Errorf("zookeeper path is required")
	}
	conn, _, err := zk.Connect(endpoints, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to zookeeper: %w", err)
	}
	return &ZookeeperProvider{conn: conn, path: path}, nil
}

func (p *ZookeeperProvider) ReadBytes() ([]byte, error) {
	data, _, err := p.conn.Get(p.path)
	if err != nil {
		return nil, fmt.Errorf("read zookeeper node %s: %w", p.path, err)
	}
	return data, nil
}

func (p *ZookeeperProvider) Read() (map[string]any, error) {
	return nil, fmt.Errorf("zookeeper provider does not support Read, use ReadBytes with a parser")
}

func (p *ZookeeperProvider) Watch(cb func(event any, err error)) error {
	for {
		data, _, eventCh, err := p.conn.GetW(p.path)
		if err != nil {
			cb(nil, fmt.Errorf("watch zookeeper node %s: %w", p.path, err))
			time.Sleep(LoadTimeout)
			continue
		}
		event := <-eventCh
		switch event.Type {
		case zk.EventNodeDataChanged:
			cb(data, nil)
		case zk.EventNodeDeleted:
			cb(nil, fmt.Errorf("zookeeper node %s was deleted", p.path))
			return nil
		case zk.EventNotWatching:
			cb(nil, fmt.Errorf("zookeeper watch lost for node %s", p.path))
			return nil
		}
	}
}

// Close releases the zookeeper connection.
func (p *ZookeeperProvider) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
