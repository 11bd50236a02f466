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
	"fmt"
	"net"
	"os"
	"syscall"
)

// TimeoutError is produced when one of the layered request deadlines
// fires. Each layer has its own sentinel so callers can tell which
// deadline expired.
type TimeoutError struct {
	phase string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return "transport: " + e.phase + " timeout"
}

// Timeout implements net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// Temporary implements net.Error.
func (e *TimeoutError) Temporary() bool { return true }

// Sentinels for the six request deadlines. Match with errors.Is.
var (
	ErrResolveTimeout    = &TimeoutError{phase: "resolve"}
	ErrConnectionTimeout = &TimeoutError{phase: "connection"}
	ErrWriteTimeout      = &TimeoutError{phase: "write"}
	ErrReadTimeout       = &TimeoutError{phase: "read"}
	ErrDataTimeout       = &TimeoutError{phase: "data"}
	ErrRequestTimeout    = &TimeoutError{phase: "request"}
)

// ErrNoRecords is returned when DNS resolution succeeds but yields an
// empty answer. It is retriable.
var ErrNoRecords = errors.New("transport: resolver returned no records")

// StatusError is returned by the retry wrapper when a retriable HTTP
// status (429 or 5xx) survives every attempt. It carries the final
// status and raw body so the caller can still interpret the response.
type StatusError struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: status %d after retries", e.StatusCode)
}

// RetriableStatus reports whether an HTTP status code should be retried.
func RetriableStatus(code int) bool {
	return code == 429 || code >= 500
}

// Retriable reports whether a transport-level error is worth another
// attempt. Cancellation is never retriable.
func Retriable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrResolveTimeout),
		errors.Is(err, ErrConnectionTimeout),
		errors.Is(err, ErrWriteTimeout),
		errors.Is(err, ErrReadTimeout),
		errors.Is(err, ErrDataTimeout),
		errors.Is(err, ErrRequestTimeout):
		return true
	case errors.Is(err, ErrNoRecords):
		return true
	case errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.EBUSY):
		return true
	}

	var dns *net.DNSError
	if errors.As(err, &dns) {
		// NXDOMAIN is retriable here: flapping resolvers on busy hosts
		// routinely return transient NOTFOUND for healthy names.
		return dns.IsNotFound || dns.IsTemporary || dns.IsTimeout
	}

	var neterr net.Error
	if errors.As(err, &neterr) && neterr.Timeout() {
		return true
	}
	return false
}
