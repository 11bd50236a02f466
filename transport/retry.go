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
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// MaxRetryDelay clamps a single backoff wait. The exponent grows
// without bound while the clamp prevents pathological delays.
const MaxRetryDelay = 20 * time.Second

// Default attempt budgets.
const (
	S3Attempts   = 5
	IMDSAttempts = 3
)

// uniformBackoff implements backoff.BackOff with a delay of
// uniform(0, 2^(attempt-1)) seconds, clamped to MaxRetryDelay.
type uniformBackoff struct {
	attempt int
	max     time.Duration
	jitter  func() float64
}

func (b *uniformBackoff) NextBackOff() time.Duration {
	jitter := b.jitter
	if jitter == nil {
		jitter = rand.Float64
	}
	b.attempt++
	ceiling := math.Pow(2, float64(b.attempt))
	delay := time.Duration(jitter() * ceiling * float64(time.Second))
	if delay > b.max {
		delay = b.max
	}
	return delay
}

func (b *uniformBackoff) Reset() { b.attempt = 0 }

// DoRetry performs the request up to attempts times, retrying on the
// fixed classification of transient failures. The build callback is
// invoked per attempt so signatures stay fresh. A retriable status that
// survives every attempt comes back as *StatusError; non-retriable
// statuses are returned as a normal response for the caller to
// interpret.
func (e *Executor) DoRetry(ctx context.Context, build func(ctx context.Context) (*http.Request, error), attempts int, prof TimeoutProfile) (*Response, error) {
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(&uniformBackoff{max: MaxRetryDelay, jitter: e.jitter}, uint64(attempts-1)), ctx)

	var out *Response
	err := backoff.RetryNotify(func() error {
		req, err := build(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		res, err := e.Do(ctx, req, prof)
		switch {
		case err != nil && Retriable(err):
			return err
		case err != nil:
			return backoff.Permanent(err)
		case RetriableStatus(res.StatusCode):
			return &StatusError{
				StatusCode:  res.StatusCode,
				ContentType: res.ContentType(),
				Body:        res.Body,
			}
		}
		out = res
		return nil
	}, policy, func(err error, wait time.Duration) {
		e.log.Warn("retrying request",
			zap.Error(err),
			zap.Duration("wait", wait))
		if e.OnRetry != nil {
			e.OnRetry(err)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
