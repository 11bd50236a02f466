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
	"encoding/hex"
	"net/url"
	"strings"
)

// Object identifies the source of a download. Version, when set, is
// passed as the versionId query parameter.
type Object struct {
	Bucket  string
	Key     string
	Version string
}

// url composes the path-style request URL for this object. Path-style
// addressing stays compatible with bucket names containing dots, for
// which virtual-hosted-style would need TLS SNI workarounds.
func (o Object) url(scheme, host string, query url.Values) *url.URL {
	return &url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     "/" + o.Bucket + "/" + o.Key,
		RawPath:  "/" + o.Bucket + "/" + escapeKey(o.Key),
		RawQuery: query.Encode(),
	}
}

// escapeKey percent-encodes the object key, keeping
// [A-Za-z0-9_.~-%] intact so pre-escaped keys pass through, and
// forcing '*' to %2A.
func escapeKey(key string) string {
	var out strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			out.WriteByte(c)
		case c == '_' || c == '.' || c == '~' || c == '-' || c == '%':
			out.WriteByte(c)
		default:
			out.WriteByte('%')
			out.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
		}
	}
	return out.String()
}

// ValidBucket reports whether the bucket name conforms to the S3
// naming rules: 3-63 characters of lowercase letters, digits, dots and
// hyphens, starting and ending with a letter or digit.
func ValidBucket(bucket string) bool {
	if len(bucket) < 3 || len(bucket) > 63 {
		return false
	}
	if strings.HasPrefix(bucket, "xn--") || strings.HasSuffix(bucket, "-s3alias") {
		return false
	}
	if strings.Contains(bucket, "..") {
		return false
	}
	for i := 0; i < len(bucket); i++ {
		c := bucket[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-' || c == '.':
			if i == 0 || i == len(bucket)-1 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
