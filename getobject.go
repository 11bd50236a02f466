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
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/kelindar/s3get/aws"
	"github.com/kelindar/s3get/transport"
)

// partSpec selects either an inclusive byte range or a server-side
// part number, never both.
type partSpec struct {
	start, end int64
	number     int
	byRange    bool
}

func rangeSpec(start, end int64) partSpec {
	return partSpec{start: start, end: end, byRange: true}
}

func numberSpec(n int) partSpec {
	return partSpec{number: n}
}

// partData is one downloaded part plus the layout learned from the
// response headers.
type partData struct {
	body       []byte
	total      int64 // object size from Content-Range
	partsCount int   // x-amz-mp-parts-count, 0 when absent
	start, end int64
}

// fetchPart builds, signs and issues a single GetObject for the given
// spec, retrying transient failures, and interprets the response.
func (d *Download) fetchPart(ctx context.Context, spec partSpec) (*partData, error) {
	d.inflight.Add(1)
	defer d.inflight.Add(-1)

	scheme, host, region, err := d.endpoint(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	if d.obj.Version != "" {
		query.Set("versionId", d.obj.Version)
	}
	if !spec.byRange {
		query.Set("partNumber", strconv.Itoa(spec.number))
	}
	target := d.obj.url(scheme, host, query)

	res, err := d.exec.DoRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		creds, err := d.opt.Credentials.Retrieve(ctx)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return nil, err
		}
		if spec.byRange {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", spec.start, spec.end))
		}
		aws.SignV4(req, creds, region, "s3", nil)
		return req, nil
	}, d.opt.Attempts, d.prof)
	if err != nil {
		var status *transport.StatusError
		if errors.As(err, &status) {
			return nil, responseError(status.StatusCode, status.ContentType, status.Body)
		}
		return nil, err
	}
	return interpretResponse(res, spec)
}

// interpretResponse maps a GetObject response to part data or an error.
func interpretResponse(res *transport.Response, spec partSpec) (*partData, error) {
	switch {
	case res.StatusCode == http.StatusPartialContent:
		start, end, total, err := parseContentRange(res.Header.Get("Content-Range"))
		if err != nil {
			return nil, responseError(res.StatusCode, res.ContentType(), res.Body)
		}
		if spec.byRange && start != spec.start {
			return nil, fmt.Errorf("s3get: unexpected content range %d-%d for requested range %d-%d",
				start, end, spec.start, spec.end)
		}
		out := &partData{body: res.Body, total: total, start: start, end: end}
		if v := res.Header.Get("x-amz-mp-parts-count"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				out.partsCount = n
			}
		}
		return out, nil

	case res.StatusCode == http.StatusOK && len(res.Body) == 0:
		// zero-length object
		return &partData{}, nil

	case res.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		if code, _, ok := parseS3Error(res.Body); ok && code == "InvalidRange" {
			// ranged probe against an empty object
			return &partData{}, nil
		}
		return nil, responseError(res.StatusCode, res.ContentType(), res.Body)

	default:
		return nil, responseError(res.StatusCode, res.ContentType(), res.Body)
	}
}

// responseError turns a non-2xx (or malformed 2xx) response into the
// most specific error kind the body allows.
func responseError(status int, contentType string, body []byte) error {
	if isXML(contentType) {
		if code, message, ok := parseS3Error(body); ok {
			return &Error{Code: code, Message: message, StatusCode: status, Body: body}
		}
		return &UnexpectedXMLError{Body: body}
	}
	return &UnexpectedResponseError{StatusCode: status, ContentType: contentType, Body: body}
}

func isXML(contentType string) bool {
	return contentType == "application/xml" || contentType == "text/xml"
}

// parseContentRange parses "bytes START-END/TOTAL".
func parseContentRange(s string) (start, end, total int64, err error) {
	rest, ok := strings.CutPrefix(s, "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("s3get: malformed content range %q", s)
	}
	span, totalStr, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("s3get: malformed content range %q", s)
	}
	startStr, endStr, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("s3get: malformed content range %q", s)
	}
	if start, err = strconv.ParseInt(startStr, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("s3get: malformed content range %q", s)
	}
	if end, err = strconv.ParseInt(endStr, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("s3get: malformed content range %q", s)
	}
	if total, err = strconv.ParseInt(totalStr, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("s3get: malformed content range %q", s)
	}
	return start, end, total, nil
}
