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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Credentials is one resolved set of signing material.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// signingTime is swappable so tests can pin the scope date.
var signingTime = time.Now

// SignV4 signs req in place using AWS signature version 4. The payload
// is the request body (nil for GET); its hash is always included as
// x-amz-content-sha256 the way S3 requires.
func SignV4(req *http.Request, creds Credentials, region, service string, payload []byte) {
	now := signingTime().UTC()
	amzDate := now.Format("20060102T150405Z")
	scopeDate := now.Format("20060102")

	payloadHash := sha256.Sum256(payload)
	hexPayload := hex.EncodeToString(payloadHash[:])

	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("x-amz-content-sha256", hexPayload)
	if creds.SessionToken != "" {
		req.Header.Set("x-amz-security-token", creds.SessionToken)
	}

	host := req.Host
	if host == "" {
		host = req.URL.Host
	}

	// canonical headers: host plus every header we sign, sorted
	signed := []struct{ name, value string }{
		{"host", host},
		{"x-amz-content-sha256", hexPayload},
		{"x-amz-date", amzDate},
	}
	if r := req.Header.Get("Range"); r != "" {
		signed = append(signed, struct{ name, value string }{"range", r})
	}
	if creds.SessionToken != "" {
		signed = append(signed, struct{ name, value string }{"x-amz-security-token", creds.SessionToken})
	}
	sort.Slice(signed, func(i, j int) bool { return signed[i].name < signed[j].name })

	var canonHeaders, headerList strings.Builder
	for i, h := range signed {
		canonHeaders.WriteString(h.name)
		canonHeaders.WriteByte(':')
		canonHeaders.WriteString(strings.TrimSpace(h.value))
		canonHeaders.WriteByte('\n')
		if i > 0 {
			headerList.WriteByte(';')
		}
		headerList.WriteString(h.name)
	}

	canonical := strings.Join([]string{
		req.Method,
		canonicalPath(req.URL),
		canonicalQuery(req.URL),
		canonHeaders.String(),
		headerList.String(),
		hexPayload,
	}, "\n")

	scope := strings.Join([]string{scopeDate, region, service, "aws4_request"}, "/")
	sum := sha256.Sum256([]byte(canonical))
	toSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		hex.EncodeToString(sum[:]),
	}, "\n")

	key := deriveKey(creds.SecretAccessKey, scopeDate, region, service)
	signature := hex.EncodeToString(hmacSHA256(key, toSign))

	req.Header.Set("Authorization", strings.Join([]string{
		"AWS4-HMAC-SHA256 Credential=" + creds.AccessKeyID + "/" + scope,
		"SignedHeaders=" + headerList.String(),
		"Signature=" + signature,
	}, ", "))
}

// deriveKey runs the SigV4 key-derivation chain for one scope date.
func deriveKey(secret, date, region, service string) []byte {
	k := hmacSHA256([]byte("AWS4"+secret), date)
	k = hmacSHA256(k, region)
	k = hmacSHA256(k, service)
	return hmacSHA256(k, "aws4_request")
}

func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

// canonicalPath uses the raw escaped path so the signature covers the
// exact bytes sent on the wire.
func canonicalPath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		return "/"
	}
	return p
}

// canonicalQuery sorts parameters and re-escapes them with the
// restricted character set SigV4 demands.
func canonicalQuery(u *url.URL) string {
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return u.RawQuery
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out strings.Builder
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for _, v := range vs {
			if out.Len() > 0 {
				out.WriteByte('&')
			}
			out.WriteString(queryEscape(k))
			out.WriteByte('=')
			out.WriteString(queryEscape(v))
		}
	}
	return out.String()
}

// queryEscape percent-encodes everything outside the SigV4 unreserved
// set.
func queryEscape(s string) string {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			out.WriteByte(c)
		case c == '-' || c == '_' || c == '.' || c == '~':
			out.WriteByte(c)
		default:
			out.WriteByte('%')
			out.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
		}
	}
	return out.String()
}
