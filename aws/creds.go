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

package aws

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Provider yields credentials for one request. Providers own their own
// caching; callers invoke Retrieve per request.
type Provider interface {
	Retrieve(ctx context.Context) (Credentials, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (Credentials, error)

// Retrieve implements Provider.
func (f ProviderFunc) Retrieve(ctx context.Context) (Credentials, error) {
	return f(ctx)
}

// Static is a Provider that always returns the same credentials.
type Static Credentials

// Retrieve implements Provider.
func (s Static) Retrieve(context.Context) (Credentials, error) {
	return Credentials(s), nil
}

// FromEnvironment reads credentials from AWS_ACCESS_KEY_ID,
// AWS_SECRET_ACCESS_KEY and (optionally) AWS_SESSION_TOKEN. The second
// return is false unless both required variables are present.
func FromEnvironment() (Credentials, bool) {
	id := os.Getenv("AWS_ACCESS_KEY_ID")
	secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if id == "" || secret == "" {
		return Credentials{}, false
	}
	return Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
	}, true
}

// credentialMaxAge invalidates a cached instance credential; the role
// document's own expiry is usually hours away, but rotating well before
// it keeps clock skew out of the signature.
const credentialMaxAge = 4 * time.Minute

// InstanceProvider resolves credentials from the EC2 instance metadata
// service (IMDSv2) and caches them for credentialMaxAge.
type InstanceProvider struct {
	mu      sync.Mutex
	group   singleflight.Group
	cached  Credentials
	fetched time.Time
}

var defaultInstanceProvider = &InstanceProvider{}

func (p *InstanceProvider) reset() {
	p.mu.Lock()
	p.cached = Credentials{}
	p.fetched = time.Time{}
	p.mu.Unlock()
}

// Retrieve implements Provider.
func (p *InstanceProvider) Retrieve(ctx context.Context) (Credentials, error) {
	p.mu.Lock()
	if p.cached.AccessKeyID != "" && time.Since(p.fetched) < credentialMaxAge {
		creds := p.cached
		p.mu.Unlock()
		return creds, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do("creds", func() (interface{}, error) {
		role, err := MetadataString(ctx, "meta-data/iam/security-credentials/")
		if err != nil {
			return nil, err
		}
		role = strings.TrimSpace(role)
		if i := strings.IndexByte(role, '\n'); i >= 0 {
			role = role[:i]
		}
		if role == "" {
			return nil, fmt.Errorf("aws: no IAM role attached to instance")
		}

		var doc struct {
			Code            string
			AccessKeyID     string `json:"AccessKeyId"`
			SecretAccessKey string
			Token           string
		}
		if err := MetadataJSON(ctx, "meta-data/iam/security-credentials/"+role, &doc); err != nil {
			return nil, err
		}
		if doc.Code != "" && doc.Code != "Success" {
			return nil, fmt.Errorf("aws: role credentials: %s", doc.Code)
		}
		creds := Credentials{
			AccessKeyID:     doc.AccessKeyID,
			SecretAccessKey: doc.SecretAccessKey,
			SessionToken:    doc.Token,
		}
		p.mu.Lock()
		p.cached = creds
		p.fetched = time.Now()
		p.mu.Unlock()
		return creds, nil
	})
	if err != nil {
		return Credentials{}, err
	}
	return v.(Credentials), nil
}

// DefaultChain resolves credentials from the environment first and
// falls back to the instance metadata service. The IMDS cache is
// process-wide.
func DefaultChain() Provider {
	return ProviderFunc(func(ctx context.Context) (Credentials, error) {
		if creds, ok := FromEnvironment(); ok {
			return creds, nil
		}
		return defaultInstanceProvider.Retrieve(ctx)
	})
}
