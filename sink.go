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
	"io"
	"os"
)

// sink is the destination of the reassembled byte stream. Write may
// block on downstream backpressure; the coordinator owns the sink from
// the first byte until a terminal state.
type sink interface {
	io.Writer

	// close completes the sink after the final part.
	close() error

	// fail destroys the sink, surfacing err to whoever is consuming it.
	fail(err error)
}

// fileSink writes to a local file the coordinator opens and closes
// itself.
type fileSink struct {
	f *os.File
}

func (s *fileSink) Write(p []byte) (int, error) { return s.f.Write(p) }

func (s *fileSink) close() error { return s.f.Close() }

func (s *fileSink) fail(error) {
	// the error travels through the File return value; the partial
	// file is left on disk
	s.f.Close()
}

// pipeSink feeds the reader returned by ReadStream.
type pipeSink struct {
	pw *io.PipeWriter
}

func (s *pipeSink) Write(p []byte) (int, error) { return s.pw.Write(p) }

func (s *pipeSink) close() error { return s.pw.Close() }

func (s *pipeSink) fail(err error) { s.pw.CloseWithError(err) }

// writerSink adapts a caller-supplied io.Writer for WriteTo.
type writerSink struct {
	w io.Writer
	n int64
}

func (s *writerSink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	s.n += int64(n)
	return n, err
}

func (s *writerSink) close() error { return nil }

func (s *writerSink) fail(error) {}
