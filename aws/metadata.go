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
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/kelindar/s3get/transport"
	"golang.org/x/sync/singleflight"
)

// MetadataBase is the IMDS endpoint. Tests point it at a local server.
var MetadataBase = "http://169.254.169.254"

const (
	tokenTTL = 600 * time.Second

	// the session token is refreshed this long before it expires
	tokenSlack = 60 * time.Second
)

var imds = struct {
	exec  *transport.Executor
	group singleflight.Group

	mu       sync.Mutex
	token    string
	tokenExp time.Time
	region   string
}{
	exec: transport.NewExecutor(nil, nil),
}

// ClearCache drops the cached IMDS token and region. Intended for tests.
func ClearCache() {
	imds.mu.Lock()
	imds.token = ""
	imds.tokenExp = time.Time{}
	imds.region = ""
	imds.mu.Unlock()
	defaultInstanceProvider.reset()
}

// metadataToken returns a valid IMDSv2 session token, requesting a new
// one when the cached token is within its refresh slack.
func metadataToken(ctx context.Context) (string, error) {
	imds.mu.Lock()
	if imds.token != "" && time.Until(imds.tokenExp) > tokenSlack {
		tok := imds.token
		imds.mu.Unlock()
		return tok, nil
	}
	imds.mu.Unlock()

	v, err, _ := imds.group.Do("token", func() (interface{}, error) {
		res, err := imds.exec.DoRetry(ctx, func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPut, MetadataBase+"/latest/api/token", nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("X-aws-ec2-metadata-token-ttl-seconds", fmt.Sprintf("%d", int(tokenTTL.Seconds())))
			return req, nil
		}, transport.IMDSAttempts, transport.IMDSProfile())
		if err != nil {
			return nil, err
		}
		if res.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("aws: metadata token: status %d", res.StatusCode)
		}
		tok := strings.TrimSpace(string(res.Body))
		imds.mu.Lock()
		imds.token = tok
		imds.tokenExp = time.Now().Add(tokenTTL)
		imds.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// MetadataString fetches one value from the instance metadata service.
// The path is relative to /latest/.
func MetadataString(ctx context.Context, path string) (string, error) {
	tok, err := metadataToken(ctx)
	if err != nil {
		return "", err
	}
	res, err := imds.exec.DoRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, MetadataBase+"/latest/"+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-aws-ec2-metadata-token", tok)
		return req, nil
	}, transport.IMDSAttempts, transport.IMDSProfile())
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("aws: metadata %s: status %d", path, res.StatusCode)
	}
	return string(res.Body), nil
}

// MetadataJSON fetches and decodes a JSON document from the instance
// metadata service.
func MetadataJSON(ctx context.Context, path string, v interface{}) error {
	body, err := MetadataString(ctx, path)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(body), v)
}

// Region resolves the AWS region: AWS_REGION when set, otherwise the
// instance-identity document. The first success is cached for the
// process lifetime.
func Region(ctx context.Context) (string, error) {
	if r := os.Getenv("AWS_REGION"); r != "" {
		return r, nil
	}
	imds.mu.Lock()
	if imds.region != "" {
		r := imds.region
		imds.mu.Unlock()
		return r, nil
	}
	imds.mu.Unlock()

	v, err, _ := imds.group.Do("region", func() (interface{}, error) {
		var doc struct {
			Region string `json:"region"`
		}
		if err := MetadataJSON(ctx, "dynamic/instance-identity/document", &doc); err != nil {
			return nil, err
		}
		if doc.Region == "" {
			return nil, fmt.Errorf("aws: instance identity document has no region")
		}
		imds.mu.Lock()
		imds.region = doc.Region
		imds.mu.Unlock()
		return doc.Region, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Endpoint composes the path-style S3 hostname for a region.
func Endpoint(region string) string {
	return "s3." + region + ".amazonaws.com"
}
