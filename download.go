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

// Package s3get retrieves a single large object from an S3-compatible
// store by issuing many concurrent byte-range or partNumber GETs and
// reassembling the bytes in order, without a vendor SDK.
package s3get

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kelindar/s3get/aws"
	"github.com/kelindar/s3get/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Meta describes the probed layout of an object.
type Meta struct {
	Size  int64 // object size in bytes
	Parts int   // number of parts the download will fetch
}

// Download is a single-use handle for one accelerated object download.
type Download struct {
	obj  Object
	opt  Options
	exec *transport.Executor
	log  *zap.Logger
	prof transport.TimeoutProfile

	emitter emitter
	ctx     context.Context
	cancel  context.CancelCauseFunc
	sf      singleflight.Group

	mu       sync.Mutex
	probe    *partData
	ep       *endpointInfo
	started  bool
	aborted  bool
	abortErr error

	inflight atomic.Int32
}

type endpointInfo struct {
	scheme, host, region string
}

// New creates a download handle for the given object.
func New(obj Object, opt Options) (*Download, error) {
	if !ValidBucket(obj.Bucket) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBucket, obj.Bucket)
	}
	if obj.Key == "" {
		return nil, fmt.Errorf("%w: empty object key", ErrInvalidOptions)
	}
	opt, err := opt.withDefaults()
	if err != nil {
		return nil, err
	}

	d := &Download{
		obj:  obj,
		opt:  opt,
		log:  opt.Logger,
		prof: opt.profile(),
	}
	d.exec = transport.NewExecutor(opt.Pool, opt.Logger)
	d.exec.OnRetry = func(error) { opt.Metrics.incRetries() }
	d.ctx, d.cancel = context.WithCancelCause(context.Background())
	return d, nil
}

// On registers an event listener.
func (d *Download) On(ev Event, fn func(EventInfo)) { d.emitter.On(ev, fn) }

// Once registers an event listener removed after its first delivery.
func (d *Download) Once(ev Event, fn func(EventInfo)) { d.emitter.Once(ev, fn) }

// Off removes an event listener.
func (d *Download) Off(ev Event, fn func(EventInfo)) { d.emitter.Off(ev, fn) }

func (d *Download) emit(ev Event, info EventInfo) { d.emitter.emit(ev, info) }

// PartsDownloading returns the number of part GETs currently in
// flight.
func (d *Download) PartsDownloading() int {
	return int(d.inflight.Load())
}

// Abort cancels the download. Every in-flight GET and backoff wait is
// interrupted, buffered parts are discarded, and err (or ErrAborted
// when nil) is surfaced through the sink exactly once. Idempotent.
func (d *Download) Abort(err error) {
	if err == nil {
		err = ErrAborted
	}
	d.abort(err)
}

// abort latches the first error and cancels everything downstream.
func (d *Download) abort(err error) {
	d.mu.Lock()
	if d.aborted {
		d.mu.Unlock()
		return
	}
	d.aborted = true
	d.abortErr = err
	d.mu.Unlock()

	d.emitter.mute()
	d.cancel(err)
}

// Meta probes the object and reports its size and part layout without
// starting delivery. Repeated calls share one in-flight probe and
// memoize both the result and the probe body.
func (d *Download) Meta(ctx context.Context) (Meta, error) {
	ctx, release := d.bind(ctx)
	defer release()

	probe, err := d.probeOnce(ctx)
	if err != nil {
		return Meta{}, err
	}
	size, parts := d.layout(probe)
	return Meta{Size: size, Parts: parts}, nil
}

// ReadStream begins delivery and returns the ordered byte stream.
// Closing the reader before the end aborts the download. The handle is
// consumed; a second ReadStream, File or WriteTo call fails.
func (d *Download) ReadStream() (io.ReadCloser, error) {
	if err := d.consume(); err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	go d.run(context.Background(), &pipeSink{pw: pw})
	return &streamReader{d: d, pr: pr}, nil
}

type streamReader struct {
	d  *Download
	pr *io.PipeReader
}

func (r *streamReader) Read(p []byte) (int, error) { return r.pr.Read(p) }

func (r *streamReader) Close() error {
	r.d.Abort(nil)
	return r.pr.Close()
}

// File begins delivery into a file at path which the download opens,
// writes and closes itself. On failure the error that stopped the
// download is returned and a partial file may remain.
func (d *Download) File(ctx context.Context, path string) error {
	if err := d.consume(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return d.run(ctx, &fileSink{f: f})
}

// WriteTo streams the ordered bytes into w, returning the number of
// bytes written. It implements io.WriterTo.
func (d *Download) WriteTo(w io.Writer) (int64, error) {
	if err := d.consume(); err != nil {
		return 0, err
	}
	out := &writerSink{w: w}
	err := d.run(context.Background(), out)
	return out.n, err
}

// consume latches the single-shot start.
func (d *Download) consume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.aborted {
		return d.abortErr
	}
	if d.started {
		return ErrAlreadyStarted
	}
	d.started = true
	return nil
}

// bind derives a context cancelled by both the caller and Abort.
func (d *Download) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(d.ctx, func() {
		cancel(context.Cause(d.ctx))
	})
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

// run drives the state machine: probe, then schedule workers while the
// single in-order writer feeds the sink.
func (d *Download) run(ctx context.Context, out sink) error {
	ctx, release := d.bind(ctx)
	defer release()
	d.opt.Metrics.addActive(1)
	defer d.opt.Metrics.addActive(-1)

	d.emit(EventPartDownloading, EventInfo{Part: 1})
	probe, err := d.probeOnce(ctx)
	if err != nil {
		return d.fail(out, err)
	}
	size, parts := d.layout(probe)
	d.log.Debug("object layout",
		zap.Int64("size", size),
		zap.Int("parts", parts))
	d.emit(EventObjectDownloading, EventInfo{Size: size, Parts: parts})
	d.emit(EventPartDownloaded, EventInfo{Part: 1})

	writes := make(chan partWrite)
	writer := make(chan error, 1)
	go func() { writer <- d.writeInOrder(ctx, out, parts, writes) }()

	if err := d.submit(ctx, writes, 1, probe.body); err != nil {
		return d.fail(out, err)
	}

	if parts > 1 {
		var next atomic.Int64
		next.Store(1)
		workers := parts - 1
		if workers > d.opt.Concurrency {
			workers = d.opt.Concurrency
		}
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < workers; i++ {
			g.Go(func() error {
				for {
					n := int(next.Add(1))
					if n > parts {
						return nil
					}
					if err := d.downloadPart(gctx, n, writes); err != nil {
						return err
					}
				}
			})
		}
		if err := g.Wait(); err != nil {
			return d.fail(out, err)
		}
	}

	if err := <-writer; err != nil {
		return d.fail(out, err)
	}
	if err := out.close(); err != nil {
		return d.fail(out, err)
	}
	return nil
}

// downloadPart fetches part n and hands it to the writer, blocking
// until the bytes are accepted so at most Concurrency parts are ever
// in flight or waiting on this worker.
func (d *Download) downloadPart(ctx context.Context, n int, writes chan<- partWrite) error {
	d.emit(EventPartDownloading, EventInfo{Part: n})
	part, err := d.fetchPart(ctx, d.specFor(n))
	if err != nil {
		return err
	}
	d.emit(EventPartDownloaded, EventInfo{Part: n})
	d.opt.Metrics.incParts()
	d.opt.Metrics.addBytes(len(part.body))
	d.log.Debug("part downloaded",
		zap.Int("part", n),
		zap.Int("bytes", len(part.body)))
	return d.submit(ctx, writes, n, part.body)
}

// submit delivers one part to the writer and waits for its ack.
func (d *Download) submit(ctx context.Context, writes chan<- partWrite, n int, body []byte) error {
	pw := partWrite{n: n, body: body, ack: make(chan error, 1)}
	select {
	case writes <- pw:
	case <-ctx.Done():
		return context.Cause(ctx)
	}
	select {
	case err := <-pw.ack:
		return err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// fail funnels the first unresolved error through abort and destroys
// the sink with it, exactly once.
func (d *Download) fail(out sink, err error) error {
	if errors.Is(err, context.Canceled) {
		if cause := context.Cause(d.ctx); cause != nil {
			err = cause
		}
	}
	d.abort(err)

	d.mu.Lock()
	err = d.abortErr
	d.mu.Unlock()
	out.fail(err)
	return err
}

// probeOnce issues (at most) the single probing GET for part 1 and
// memoizes the result, including the body so it can seed the sink.
func (d *Download) probeOnce(ctx context.Context) (*partData, error) {
	d.mu.Lock()
	if p := d.probe; p != nil {
		d.mu.Unlock()
		return p, nil
	}
	d.mu.Unlock()

	v, err, _ := d.sf.Do("probe", func() (interface{}, error) {
		probe, err := d.fetchPart(ctx, d.specFor(1))
		if err != nil {
			return nil, err
		}
		d.opt.Metrics.incParts()
		d.opt.Metrics.addBytes(len(probe.body))
		d.mu.Lock()
		d.probe = probe
		d.mu.Unlock()
		return probe, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*partData), nil
}

// layout derives the object size and part count from the probe.
func (d *Download) layout(probe *partData) (size int64, parts int) {
	size = probe.total
	if d.opt.PartSize > 0 {
		parts = int((size + d.opt.PartSize - 1) / d.opt.PartSize)
	} else {
		parts = probe.partsCount
	}
	if parts < 1 {
		parts = 1
	}
	return size, parts
}

// specFor maps a 1-based part number onto a request spec.
func (d *Download) specFor(n int) partSpec {
	if d.opt.PartSize == 0 {
		return numberSpec(n)
	}
	start := int64(n-1) * d.opt.PartSize
	end := start + d.opt.PartSize - 1
	d.mu.Lock()
	probe := d.probe
	d.mu.Unlock()
	if probe != nil && end > probe.total-1 {
		end = probe.total - 1
	}
	return rangeSpec(start, end)
}

// endpoint resolves the scheme, hostname and region once per download.
func (d *Download) endpoint(ctx context.Context) (scheme, host, region string, err error) {
	d.mu.Lock()
	if ep := d.ep; ep != nil {
		d.mu.Unlock()
		return ep.scheme, ep.host, ep.region, nil
	}
	d.mu.Unlock()

	v, err, _ := d.sf.Do("endpoint", func() (interface{}, error) {
		region, err := aws.Region(ctx)
		if err != nil {
			return nil, err
		}
		ep := &endpointInfo{scheme: "https", region: region}
		switch {
		case d.opt.Endpoint == "":
			ep.host = aws.Endpoint(region)
		case strings.Contains(d.opt.Endpoint, "://"):
			u, err := url.Parse(d.opt.Endpoint)
			if err != nil {
				return nil, fmt.Errorf("%w: endpoint %q", ErrInvalidOptions, d.opt.Endpoint)
			}
			ep.scheme, ep.host = u.Scheme, u.Host
		default:
			ep.host = d.opt.Endpoint
		}
		d.mu.Lock()
		d.ep = ep
		d.mu.Unlock()
		return ep, nil
	})
	if err != nil {
		return "", "", "", err
	}
	ep := v.(*endpointInfo)
	return ep.scheme, ep.host, ep.region, nil
}
