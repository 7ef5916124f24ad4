package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// MockBackend is an in-memory fake of the S3 HTTP surface the store uses
// (GetObject, HeadObject, conditional PutObject, DeleteObject and
// ListObjectsV2). It lets tests run the real SDK client without network access.
type MockBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
	// ConflictPuts makes the next N conditional puts fail with 412.
	ConflictPuts int
	// FailGets makes every GetObject return 403 AccessDenied.
	FailGets bool
	Puts     int
}

// NewMockForTests returns a Store wired to a fresh MockBackend.
func NewMockForTests() (*Store, *MockBackend) {
	backend := &MockBackend{objects: make(map[string][]byte)}
	store, err := New(context.Background(), Config{
		Bucket:          "mock-bucket",
		Region:          defaultRegion,
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
		HTTPClient:      &http.Client{Transport: backend},
	})
	if err != nil {
		panic(err)
	}
	return store, backend
}

// Object returns the raw bytes stored under key.
func (m *MockBackend) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}

// SetObject seeds key with raw bytes.
func (m *MockBackend) SetObject(key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = body
}

func etagOf(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

func xmlError(status int, code string) *http.Response {
	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
	return &http.Response{
		StatusCode:    status,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        http.Header{"Content-Type": {"application/xml"}},
	}
}

// RoundTrip implements http.RoundTripper.
func (m *MockBackend) RoundTrip(req *http.Request) (*http.Response, error) {
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch req.Method {
	case http.MethodHead:
		body, ok := m.objects[key]
		if !ok {
			return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{
			"Content-Length": {fmt.Sprintf("%d", len(body))},
			"ETag":           {etagOf(body)},
		}}, nil
	case http.MethodGet:
		if key == "" && req.URL.Query().Get("list-type") == "2" {
			return m.list(req.URL.Query().Get("prefix")), nil
		}
		if m.FailGets {
			return xmlError(http.StatusForbidden, "AccessDenied"), nil
		}
		body, ok := m.objects[key]
		if !ok {
			return xmlError(http.StatusNotFound, "NoSuchKey"), nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(body)), ContentLength: int64(len(body)), Header: http.Header{
			"Content-Length": {fmt.Sprintf("%d", len(body))},
			"Content-Type":   {"application/json"},
			"ETag":           {etagOf(body)},
		}}, nil
	case http.MethodPut:
		var body []byte
		if req.Body != nil {
			body, _ = io.ReadAll(req.Body)
		}
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		existing, exists := m.objects[key]
		if m.ConflictPuts > 0 {
			m.ConflictPuts--
			return xmlError(http.StatusPreconditionFailed, "PreconditionFailed"), nil
		}
		if req.Header.Get("If-None-Match") == "*" && exists {
			return xmlError(http.StatusPreconditionFailed, "PreconditionFailed"), nil
		}
		if match := req.Header.Get("If-Match"); match != "" && (!exists || match != etagOf(existing)) {
			return xmlError(http.StatusPreconditionFailed, "PreconditionFailed"), nil
		}
		m.objects[key] = body
		m.Puts++
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{"ETag": {etagOf(body)}}}, nil
	case http.MethodDelete:
		delete(m.objects, key)
		return &http.Response{StatusCode: http.StatusNoContent, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
	}
	return xmlError(http.StatusNotImplemented, "NotImplemented"), nil
}

func (m *MockBackend) list(prefix string) *http.Response {
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&buf, "<Name>mock-bucket</Name><KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>", len(keys))
	for _, k := range keys {
		buf.WriteString("<Contents><Key>")
		_ = xml.EscapeText(&buf, []byte(k))
		fmt.Fprintf(&buf, "</Key><Size>%d</Size></Contents>", len(m.objects[k]))
	}
	buf.WriteString("</ListBucketResult>")
	return &http.Response{
		StatusCode:    http.StatusOK,
		Body:          io.NopCloser(bytes.NewReader(buf.Bytes())),
		ContentLength: int64(buf.Len()),
		Header:        http.Header{"Content-Type": {"application/xml"}},
	}
}

// decodeChunked decodes a single-chunk aws-chunked payload: <hex>\r\n<body>\r\n0\r\n...
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	var size int64
	if _, err := fmt.Sscanf(parts[0], "%x", &size); err != nil {
		return nil, false
	}
	if int64(len(parts[1])) != size || parts[2] != "0" {
		return nil, false
	}
	return []byte(parts[1]), true
}
