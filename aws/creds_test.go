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
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvironment(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKID")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "SECRET")
	t.Setenv("AWS_SESSION_TOKEN", "TOKEN")

	creds, ok := FromEnvironment()
	assert.True(t, ok)
	assert.Equal(t, "AKID", creds.AccessKeyID)
	assert.Equal(t, "SECRET", creds.SecretAccessKey)
	assert.Equal(t, "TOKEN", creds.SessionToken)
}

func TestFromEnvironment_Incomplete(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKID")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")

	_, ok := FromEnvironment()
	assert.False(t, ok)
}

func TestStatic(t *testing.T) {
	p := Static{AccessKeyID: "AKID", SecretAccessKey: "SECRET"}
	creds, err := p.Retrieve(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "AKID", creds.AccessKeyID)
	assert.Equal(t, "SECRET", creds.SecretAccessKey)
}

func TestDefaultChain_PrefersEnvironment(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKID")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "SECRET")

	creds, err := DefaultChain().Retrieve(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "AKID", creds.AccessKeyID)
}

func instanceHandler(fetches *int) http.HandlerFunc {
	return tokenHandler(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/latest/meta-data/iam/security-credentials/":
			w.Write([]byte("my-role\n"))
		case "/latest/meta-data/iam/security-credentials/my-role":
			if fetches != nil {
				*fetches++
			}
			w.Write([]byte(`{
				"Code": "Success",
				"AccessKeyId": "ROLEKEY",
				"SecretAccessKey": "ROLESECRET",
				"Token": "ROLETOKEN",
				"Expiration": "2030-01-01T00:00:00Z"
			}`))
		default:
			http.NotFound(w, r)
		}
	})
}

func TestInstanceProvider(t *testing.T) {
	fetches := 0
	withMetadataServer(t, instanceHandler(&fetches), func() {
		p := &InstanceProvider{}
		creds, err := p.Retrieve(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, "ROLEKEY", creds.AccessKeyID)
		assert.Equal(t, "ROLESECRET", creds.SecretAccessKey)
		assert.Equal(t, "ROLETOKEN", creds.SessionToken)
		assert.Equal(t, 1, fetches)

		// cached within the max age
		_, err = p.Retrieve(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 1, fetches)
	})
}

func TestInstanceProvider_Refresh(t *testing.T) {
	fetches := 0
	withMetadataServer(t, instanceHandler(&fetches), func() {
		p := &InstanceProvider{}
		_, err := p.Retrieve(context.Background())
		assert.NoError(t, err)

		// age the cache past its max age and fetch again
		p.mu.Lock()
		p.fetched = time.Now().Add(-credentialMaxAge - time.Second)
		p.mu.Unlock()

		_, err = p.Retrieve(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 2, fetches)
	})
}

func TestDefaultChain_FallsBackToInstance(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")

	withMetadataServer(t, instanceHandler(nil), func() {
		creds, err := DefaultChain().Retrieve(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, "ROLEKEY", creds.AccessKeyID)
	})
}
