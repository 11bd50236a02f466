// Copyright 2025 Roman Atachiants
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package transport

import (
	"context"
	"net"
	"sync"
	"time"
)

const (
	// dnsCapacity bounds the number of cached records per hostname.
	dnsCapacity = 1000

	// Effective TTLs are clamped to [dnsMinTTL, dnsMaxTTL]: the floor
	// protects against flapping authoritative answers, the ceiling keeps
	// failover times bounded.
	dnsMinTTL = 5 * time.Second
	dnsMaxTTL = 30 * time.Second
)

// dnsRecord is a single resolved address with its expiry.
type dnsRecord struct {
	addr    net.IP
	expires time.Time
}

// dnsCache keeps a process-wide FIFO of resolved addresses per hostname.
// Records are consumed round-robin, one per lookup; a fresh resolve
// refills the queue and retains every record beyond the first.
type dnsCache struct {
	mu      sync.Mutex
	records map[string][]dnsRecord
	lookup  func(ctx context.Context, host string) ([]net.IPAddr, error)
	now     func() time.Time
}

var defaultDNS = newDNSCache()

func newDNSCache() *dnsCache {
	var resolver net.Resolver
	return &dnsCache{
		records: make(map[string][]dnsRecord),
		lookup: func(ctx context.Context, host string) ([]net.IPAddr, error) {
			return resolver.LookupIPAddr(ctx, host)
		},
		now: time.Now,
	}
}

// ClearDNSCache drops every cached record. Intended for tests.
func ClearDNSCache() {
	defaultDNS.clear()
}

func (c *dnsCache) clear() {
	c.mu.Lock()
	c.records = make(map[string][]dnsRecord)
	c.mu.Unlock()
}

// Resolve returns one address for host, popping cached records
// round-robin and resolving fresh ones when the queue is empty or
// expired. Cancelling ctx cancels an in-flight resolve.
func (c *dnsCache) Resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	if addr := c.pop(host); addr != nil {
		return addr, nil
	}

	addrs, err := c.lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := preferIPv4(addrs)
	if len(ips) == 0 {
		return nil, ErrNoRecords
	}

	expires := c.now().Add(clampTTL(dnsMaxTTL))
	c.mu.Lock()
	queue := make([]dnsRecord, 0, min(len(ips)-1, dnsCapacity))
	for _, ip := range ips[1:] {
		if len(queue) == dnsCapacity {
			break
		}
		queue = append(queue, dnsRecord{addr: ip, expires: expires})
	}
	c.records[host] = queue
	c.mu.Unlock()
	return ips[0], nil
}

// pop removes the front record for host, discarding expired entries.
func (c *dnsCache) pop(host string) net.IP {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue := c.records[host]
	for len(queue) > 0 {
		head := queue[0]
		queue = queue[1:]
		c.records[host] = queue
		if head.expires.After(c.now()) {
			return head.addr
		}
	}
	return nil
}

// preferIPv4 orders the answer so that IPv4 records come first; v6-only
// answers are still usable.
func preferIPv4(addrs []net.IPAddr) []net.IP {
	v4 := make([]net.IP, 0, len(addrs))
	var v6 []net.IP
	for _, a := range addrs {
		if ip4 := a.IP.To4(); ip4 != nil {
			v4 = append(v4, ip4)
			continue
		}
		v6 = append(v6, a.IP)
	}
	return append(v4, v6...)
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < dnsMinTTL {
		return dnsMinTTL
	}
	if ttl > dnsMaxTTL {
		return dnsMaxTTL
	}
	return ttl
}
