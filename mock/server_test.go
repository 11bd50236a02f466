package mock

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, url string, headers map[string]string) (*http.Response, []byte) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	res.Body.Close()
	return res, body
}

func TestServer_RangeRequest(t *testing.T) {
	srv := New("bucket", "eu-west-1")
	defer srv.Close()
	srv.PutObject("key", []byte("0123456789"))

	res, body := get(t, srv.URL()+"/bucket/key", map[string]string{"Range": "bytes=2-5"})
	assert.Equal(t, http.StatusPartialContent, res.StatusCode)
	assert.Equal(t, "bytes 2-5/10", res.Header.Get("Content-Range"))
	assert.Equal(t, "2345", string(body))
}

func TestServer_RangeBeyondEnd(t *testing.T) {
	srv := New("bucket", "eu-west-1")
	defer srv.Close()
	srv.PutObject("key", []byte("0123456789"))

	// the end is clamped the way S3 clamps it
	res, body := get(t, srv.URL()+"/bucket/key", map[string]string{"Range": "bytes=8-100"})
	assert.Equal(t, http.StatusPartialContent, res.StatusCode)
	assert.Equal(t, "bytes 8-9/10", res.Header.Get("Content-Range"))
	assert.Equal(t, "89", string(body))
}

func TestServer_UnsatisfiableRange(t *testing.T) {
	srv := New("bucket", "eu-west-1")
	defer srv.Close()
	srv.PutObject("key", []byte{})

	res, body := get(t, srv.URL()+"/bucket/key", map[string]string{"Range": "bytes=0-7999"})
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, res.StatusCode)
	assert.Contains(t, string(body), "InvalidRange")
}

func TestServer_PartNumber(t *testing.T) {
	srv := New("bucket", "eu-west-1")
	defer srv.Close()
	content := []byte(strings.Repeat("a", 10) + strings.Repeat("b", 10) + strings.Repeat("c", 3))
	srv.PutMultipart("key", content, 10)

	res, body := get(t, srv.URL()+"/bucket/key?partNumber=1", nil)
	assert.Equal(t, http.StatusPartialContent, res.StatusCode)
	assert.Equal(t, "3", res.Header.Get("x-amz-mp-parts-count"))
	assert.Equal(t, "bytes 0-9/23", res.Header.Get("Content-Range"))
	assert.Equal(t, strings.Repeat("a", 10), string(body))

	res, body = get(t, srv.URL()+"/bucket/key?partNumber=3", nil)
	assert.Equal(t, http.StatusPartialContent, res.StatusCode)
	assert.Equal(t, "ccc", string(body))
}

func TestServer_SinglePartHasNoCount(t *testing.T) {
	srv := New("bucket", "eu-west-1")
	defer srv.Close()
	srv.PutObject("key", []byte("hello"))

	res, body := get(t, srv.URL()+"/bucket/key?partNumber=1", nil)
	assert.Equal(t, http.StatusPartialContent, res.StatusCode)
	assert.Empty(t, res.Header.Get("x-amz-mp-parts-count"))
	assert.Equal(t, "hello", string(body))
}

func TestServer_EmptyObjectPartNumber(t *testing.T) {
	srv := New("bucket", "eu-west-1")
	defer srv.Close()
	srv.PutObject("key", nil)

	res, body := get(t, srv.URL()+"/bucket/key?partNumber=1", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, body)
}

func TestServer_NoSuchKey(t *testing.T) {
	srv := New("bucket", "eu-west-1")
	defer srv.Close()

	res, body := get(t, srv.URL()+"/bucket/missing", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "application/xml", res.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "NoSuchKey")
}

func TestServer_NoSuchBucket(t *testing.T) {
	srv := New("bucket", "eu-west-1")
	defer srv.Close()

	res, body := get(t, srv.URL()+"/other/key", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Contains(t, string(body), "NoSuchBucket")
}

func TestServer_ScriptedFailures(t *testing.T) {
	srv := New("bucket", "eu-west-1")
	defer srv.Close()
	srv.PutMultipart("key", []byte(strings.Repeat("x", 30)), 10)
	srv.FailPart("key", 2, 1, 500, "InternalError", "boom")

	// first request for part 2 fails, the second succeeds
	res, body := get(t, srv.URL()+"/bucket/key?partNumber=2", nil)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Contains(t, string(body), "InternalError")

	res, _ = get(t, srv.URL()+"/bucket/key?partNumber=2", nil)
	assert.Equal(t, http.StatusPartialContent, res.StatusCode)

	// other parts are unaffected
	res, _ = get(t, srv.URL()+"/bucket/key?partNumber=1", nil)
	assert.Equal(t, http.StatusPartialContent, res.StatusCode)
}

func TestServer_ScriptedReset(t *testing.T) {
	srv := New("bucket", "eu-west-1")
	defer srv.Close()
	srv.PutObject("key", []byte("hello"))
	srv.ResetPart("key", 1, 1)

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	_, err := client.Get(srv.URL() + "/bucket/key")
	assert.Error(t, err)

	res, err := client.Get(srv.URL() + "/bucket/key")
	assert.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestServer_RequestLog(t *testing.T) {
	srv := New("bucket", "eu-west-1")
	defer srv.Close()
	srv.PutMultipart("key", []byte(strings.Repeat("x", 30)), 10)

	get(t, srv.URL()+"/bucket/key?partNumber=2", nil)
	get(t, srv.URL()+"/bucket/key", map[string]string{"Range": "bytes=10-19"})

	logs := srv.Requests()
	assert.Equal(t, 2, srv.RequestCount())
	assert.Equal(t, 2, logs[0].Part)
	assert.Equal(t, 2, logs[1].Part) // range 10-19 maps onto part 2
	assert.Equal(t, "bytes=10-19", logs[1].Range)
}
