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
	"reflect"
	"sync"
)

// Event names emitted during a download.
type Event string

const (
	// EventObjectDownloading fires once, after the probe, with the
	// object size and part count.
	EventObjectDownloading Event = "object:downloading"

	// EventPartDownloading fires each time a part GET starts. For part 1
	// it fires when delivery begins, also when Meta already made the
	// probe; Meta itself does not emit it.
	EventPartDownloading Event = "part:downloading"

	// EventPartDownloaded fires when a part GET succeeds and its bytes
	// are in memory.
	EventPartDownloaded Event = "part:downloaded"

	// EventPartWriting fires immediately before a part's bytes flow to
	// the sink.
	EventPartWriting Event = "part:writing"

	// EventPartDone fires after a part's write is accepted by the sink.
	EventPartDone Event = "part:done"
)

// EventInfo is the payload delivered to listeners. Part is set for
// part:* events; Size and Parts for object:downloading.
type EventInfo struct {
	Part  int
	Size  int64
	Parts int
}

type listener struct {
	id   uintptr
	fn   func(EventInfo)
	once bool
}

// emitter is a minimal synchronous event registry. Once a download is
// aborted it is muted and drops every later emission.
type emitter struct {
	mu        sync.Mutex
	listeners map[Event][]listener
	muted     bool
}

// On registers a listener for the event.
func (e *emitter) On(ev Event, fn func(EventInfo)) {
	e.add(ev, fn, false)
}

// Once registers a listener removed after its first delivery.
func (e *emitter) Once(ev Event, fn func(EventInfo)) {
	e.add(ev, fn, true)
}

func (e *emitter) add(ev Event, fn func(EventInfo), once bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[Event][]listener)
	}
	e.listeners[ev] = append(e.listeners[ev], listener{
		id:   reflect.ValueOf(fn).Pointer(),
		fn:   fn,
		once: once,
	})
}

// Off removes a previously registered listener.
func (e *emitter) Off(ev Event, fn func(EventInfo)) {
	id := reflect.ValueOf(fn).Pointer()
	e.mu.Lock()
	defer e.mu.Unlock()
	current := e.listeners[ev]
	if len(current) == 0 {
		return
	}
	kept := current[:0]
	for _, l := range current {
		if l.id != id {
			kept = append(kept, l)
		}
	}
	e.listeners[ev] = kept
}

// mute drops every later emission.
func (e *emitter) mute() {
	e.mu.Lock()
	e.muted = true
	e.mu.Unlock()
}

// emit delivers the event synchronously to every listener.
func (e *emitter) emit(ev Event, info EventInfo) {
	e.mu.Lock()
	if e.muted {
		e.mu.Unlock()
		return
	}
	current := e.listeners[ev]
	if len(current) == 0 {
		e.mu.Unlock()
		return
	}
	fns := make([]func(EventInfo), 0, len(current))
	kept := current[:0]
	for _, l := range current {
		fns = append(fns, l.fn)
		if !l.once {
			kept = append(kept, l)
		}
	}
	e.listeners[ev] = kept
	e.mu.Unlock()

	for _, fn := range fns {
		fn(info)
	}
}
