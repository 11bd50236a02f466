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

package s3get

import (
	"fmt"
	"net/http"

	"github.com/kelindar/s3get/aws"
	"github.com/kelindar/s3get/transport"
	"go.uber.org/zap"
)

// DefaultConcurrency is used when Options.Concurrency is left zero.
const DefaultConcurrency = 4

// Options configures one download.
type Options struct {
	// PartSize is the size of each ranged part in bytes. Zero selects
	// native-part mode, where parts are requested by their upload-time
	// part number.
	PartSize int64

	// Concurrency is the number of simultaneous part requests,
	// including the probe. Zero selects DefaultConcurrency.
	Concurrency int

	// Timeouts overrides the request deadlines. Nil selects
	// transport.DefaultProfile(); a zero field in an explicit profile
	// disables that layer.
	Timeouts *transport.TimeoutProfile

	// Endpoint overrides the hostname composed from the region. It may
	// be a bare hostname or carry an http/https scheme.
	Endpoint string

	// Credentials overrides the environment/IMDS credential chain.
	// The provider is consulted per request and owns its own caching.
	Credentials aws.Provider

	// Attempts bounds the tries per part request, the first one
	// included. Zero selects the S3 default of 5.
	Attempts int

	// Pool is a caller-tuned connection pool; nil selects the shared
	// transport.DefaultTransport.
	Pool *http.Transport

	// Logger receives per-part debug and retry logging. Nil disables.
	Logger *zap.Logger

	// Metrics receives transfer counters. Nil disables.
	Metrics *Metrics
}

// withDefaults validates the options and fills in defaults.
func (o Options) withDefaults() (Options, error) {
	if o.PartSize < 0 {
		return o, fmt.Errorf("%w: part size must be positive", ErrInvalidOptions)
	}
	if o.Concurrency < 0 {
		return o, fmt.Errorf("%w: concurrency must be at least 1", ErrInvalidOptions)
	}
	if o.Concurrency == 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Attempts <= 0 {
		o.Attempts = transport.S3Attempts
	}
	if o.Credentials == nil {
		o.Credentials = aws.DefaultChain()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Timeouts != nil {
		for _, d := range []int64{
			int64(o.Timeouts.Resolve), int64(o.Timeouts.Connection),
			int64(o.Timeouts.Write), int64(o.Timeouts.Read),
			int64(o.Timeouts.Data), int64(o.Timeouts.Request),
		} {
			if d < 0 {
				return o, fmt.Errorf("%w: timeouts must not be negative", ErrInvalidOptions)
			}
		}
	}
	return o, nil
}

// profile returns the effective timeout profile.
func (o Options) profile() transport.TimeoutProfile {
	if o.Timeouts != nil {
		return *o.Timeouts
	}
	return transport.DefaultProfile()
}
