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
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type bufferSink struct {
	bytes.Buffer
	closed bool
	failed error
}

func (s *bufferSink) close() error   { s.closed = true; return nil }
func (s *bufferSink) fail(err error) { s.failed = err }

func sendPart(t *testing.T, ch chan<- partWrite, n int, body string) chan error {
	ack := make(chan error, 1)
	ch <- partWrite{n: n, body: []byte(body), ack: ack}
	return ack
}

func TestWriteInOrder_OutOfOrderArrival(t *testing.T) {
	d := &Download{}
	out := &bufferSink{}
	writes := make(chan partWrite)
	done := make(chan error, 1)
	go func() { done <- d.writeInOrder(context.Background(), out, 4, writes) }()

	// parts arrive 3, 1, 4, 2 but must be written 1, 2, 3, 4
	ack3 := sendPart(t, writes, 3, "cc")
	ack1 := sendPart(t, writes, 1, "aa")
	assert.NoError(t, <-ack1)

	ack4 := sendPart(t, writes, 4, "dd")
	ack2 := sendPart(t, writes, 2, "bb")
	assert.NoError(t, <-ack2)
	assert.NoError(t, <-ack3)
	assert.NoError(t, <-ack4)

	assert.NoError(t, <-done)
	assert.Equal(t, "aabbccdd", out.String())
}

func TestWriteInOrder_AckAfterWrite(t *testing.T) {
	d := &Download{}
	out := &bufferSink{}
	writes := make(chan partWrite)
	done := make(chan error, 1)
	go func() { done <- d.writeInOrder(context.Background(), out, 2, writes) }()

	// part 2 is buffered; its ack arrives only once part 1 unblocks it
	ack2 := sendPart(t, writes, 2, "bb")
	select {
	case <-ack2:
		t.Fatal("part 2 acked before its predecessor was written")
	default:
	}

	ack1 := sendPart(t, writes, 1, "aa")
	assert.NoError(t, <-ack1)
	assert.NoError(t, <-ack2)
	assert.NoError(t, <-done)
	assert.Equal(t, "aabb", out.String())
}

func TestWriteInOrder_Cancellation(t *testing.T) {
	d := &Download{}
	out := &bufferSink{}
	writes := make(chan partWrite)
	done := make(chan error, 1)

	cause := errors.New("stop")
	ctx, cancel := context.WithCancelCause(context.Background())
	go func() { done <- d.writeInOrder(ctx, out, 3, writes) }()

	ack := sendPart(t, writes, 1, "aa")
	assert.NoError(t, <-ack)

	cancel(cause)
	assert.ErrorIs(t, <-done, cause)
}

func TestWriteInOrder_EmitsEvents(t *testing.T) {
	d := &Download{}
	var writing, complete []int
	d.On(EventPartWriting, func(ev EventInfo) { writing = append(writing, ev.Part) })
	d.On(EventPartDone, func(ev EventInfo) { complete = append(complete, ev.Part) })

	out := &bufferSink{}
	writes := make(chan partWrite)
	done := make(chan error, 1)
	go func() { done <- d.writeInOrder(context.Background(), out, 2, writes) }()

	ack2 := sendPart(t, writes, 2, "bb")
	ack1 := sendPart(t, writes, 1, "aa")
	assert.NoError(t, <-ack1)
	assert.NoError(t, <-ack2)

	assert.NoError(t, <-done)
	assert.Equal(t, []int{1, 2}, writing)
	assert.Equal(t, []int{1, 2}, complete)
}
