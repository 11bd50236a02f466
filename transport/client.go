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
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// TimeoutProfile carries the five request deadlines plus the whole-call
// deadline. A zero duration disables that layer.
type TimeoutProfile struct {
	Resolve    time.Duration // DNS lookup
	Connection time.Duration // TCP connect
	Write      time.Duration // finish writing the request body
	Read       time.Duration // finish reading the response body
	Data       time.Duration // max gap between consecutive body reads
	Request    time.Duration // whole-request wall clock
}

// DefaultProfile returns the deadlines used for S3 requests.
func DefaultProfile() TimeoutProfile {
	return TimeoutProfile{
		Resolve:    3 * time.Second,
		Connection: 3 * time.Second,
		Write:      300 * time.Second,
		Read:       300 * time.Second,
		Data:       3 * time.Second,
		Request:    300 * time.Second,
	}
}

// IMDSProfile returns the deadlines used for instance-metadata
// requests: connection and request bounded at 3s, everything else off.
func IMDSProfile() TimeoutProfile {
	return TimeoutProfile{
		Connection: 3 * time.Second,
		Request:    3 * time.Second,
	}
}

// Response is a fully-collected HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ContentType returns the response content type without parameters.
func (r *Response) ContentType() string {
	ct := r.Header.Get("Content-Type")
	for i := 0; i < len(ct); i++ {
		if ct[i] == ';' {
			return ct[:i]
		}
	}
	return ct
}

// DefaultTransport is the shared connection pool used when the caller
// does not supply one. Compression is disabled since object payloads do
// not benefit and the decompressor becomes the bottleneck at
// multi-gigabit rates.
var DefaultTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	DialContext:         dialContext,
	TLSHandshakeTimeout: 3 * time.Second,
	MaxIdleConnsPerHost: 64,
	DisableCompression:  true,
	ForceAttemptHTTP2:   false,
}

// Executor performs a single HTTP request with layered deadlines and
// collects the response body into a contiguous buffer.
type Executor struct {
	client *http.Client
	log    *zap.Logger
	jitter func() float64 // overridden in tests

	// OnRetry, if set, is invoked by the retry wrapper before each
	// backoff wait with the error that triggered it.
	OnRetry func(err error)
}

// NewExecutor creates an executor over the given connection pool; a nil
// pool selects DefaultTransport.
func NewExecutor(pool *http.Transport, log *zap.Logger) *Executor {
	if pool == nil {
		pool = DefaultTransport
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		client: &http.Client{Transport: pool},
		log:    log,
	}
}

type profileCtxKey struct{}

func profileFrom(ctx context.Context) TimeoutProfile {
	if prof, ok := ctx.Value(profileCtxKey{}).(TimeoutProfile); ok {
		return prof
	}
	return DefaultProfile()
}

// dialContext resolves through the process-wide DNS cache and connects
// under the profile's resolve and connection deadlines.
func dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	prof := profileFrom(ctx)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	rctx := ctx
	if prof.Resolve > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeoutCause(ctx, prof.Resolve, ErrResolveTimeout)
		defer cancel()
	}
	ip, err := defaultDNS.Resolve(rctx, host)
	if err != nil {
		if cause := context.Cause(rctx); errors.Is(cause, ErrResolveTimeout) {
			return nil, ErrResolveTimeout
		}
		return nil, err
	}

	cctx := ctx
	if prof.Connection > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeoutCause(ctx, prof.Connection, ErrConnectionTimeout)
		defer cancel()
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(cctx, network, net.JoinHostPort(ip.String(), port))
	if err != nil {
		if cause := context.Cause(cctx); errors.Is(cause, ErrConnectionTimeout) {
			return nil, ErrConnectionTimeout
		}
		return nil, err
	}
	return conn, nil
}

// Do performs one request under the given profile. Exactly one of
// (response, error) is returned; the response body is read to
// completion before Do returns.
func (e *Executor) Do(ctx context.Context, req *http.Request, prof TimeoutProfile) (*Response, error) {
	ctx, cancel := context.WithCancelCause(context.WithValue(ctx, profileCtxKey{}, prof))
	defer cancel(nil)

	if prof.Request > 0 {
		t := time.AfterFunc(prof.Request, func() { cancel(ErrRequestTimeout) })
		defer t.Stop()
	}
	if req.Body != nil && prof.Write > 0 {
		t := time.AfterFunc(prof.Write, func() { cancel(ErrWriteTimeout) })
		req.Body = &timedBody{rc: req.Body, timer: t}
	}

	res, err := e.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, unwrapErr(ctx, err)
	}
	defer res.Body.Close()

	body, err := e.readBody(ctx, cancel, res, prof)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: body}, nil
}

// timedBody stops the write timer once the transport has consumed the
// whole request body.
type timedBody struct {
	rc    io.ReadCloser
	timer *time.Timer
}

func (b *timedBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil {
		b.timer.Stop()
	}
	return n, err
}

func (b *timedBody) Close() error {
	b.timer.Stop()
	return b.rc.Close()
}

type bodyResult struct {
	buf []byte
	err error
}

// readBody collects the response body under the read and data
// deadlines. The buffer is sized up front when Content-Length is known.
func (e *Executor) readBody(ctx context.Context, cancel context.CancelCauseFunc, res *http.Response, prof TimeoutProfile) ([]byte, error) {
	var deadline <-chan time.Time
	if prof.Read > 0 {
		t := time.NewTimer(prof.Read)
		defer t.Stop()
		deadline = t.C
	}
	var gap *time.Timer
	var gapC <-chan time.Time
	if prof.Data > 0 {
		gap = time.NewTimer(prof.Data)
		defer gap.Stop()
		gapC = gap.C
	}

	progress := make(chan struct{}, 1)
	done := make(chan bodyResult, 1)
	go func() {
		var buf []byte
		if res.ContentLength >= 0 {
			buf = make([]byte, 0, res.ContentLength)
		}
		scratch := make([]byte, 128<<10)
		for {
			n, err := res.Body.Read(scratch)
			if n > 0 {
				buf = append(buf, scratch[:n]...)
				select {
				case progress <- struct{}{}:
				default:
				}
			}
			switch {
			case err == io.EOF:
				done <- bodyResult{buf: buf}
				return
			case err != nil:
				done <- bodyResult{err: err}
				return
			}
		}
	}()

	fail := func(err error) ([]byte, error) {
		cancel(err)
		res.Body.Close() // unblock the reader
		<-done
		return nil, err
	}
	for {
		select {
		case <-progress:
			if gap != nil {
				if !gap.Stop() {
					<-gap.C
				}
				gap.Reset(prof.Data)
			}
		case <-gapC:
			return fail(ErrDataTimeout)
		case <-deadline:
			return fail(ErrReadTimeout)
		case <-ctx.Done():
			res.Body.Close()
			<-done
			return nil, unwrapErr(ctx, context.Cause(ctx))
		case out := <-done:
			if out.err != nil {
				return nil, unwrapErr(ctx, out.err)
			}
			return out.buf, nil
		}
	}
}

// unwrapErr maps a client error back to the deadline that actually
// fired, and strips the url.Error shell so low-level codes stay
// matchable with errors.Is.
func unwrapErr(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		var timeout *TimeoutError
		if errors.As(cause, &timeout) {
			return timeout
		}
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}
