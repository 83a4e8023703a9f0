// Package testutil provides testing utilities for the Recruitee exporter.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockRecruitee is a configurable mock of the Recruitee share API. It also
// serves attachment paths, so one server covers a whole run.
type MockRecruitee struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	requestCount int
	paths        map[string]int
	lastHeader   http.Header
}

// NewMockRecruitee creates a new mock server.
func NewMockRecruitee() *MockRecruitee {
	mock := &MockRecruitee{
		handlers: make(map[string]http.HandlerFunc),
		paths:    make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.paths[r.URL.Path]++
		mock.lastHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		http.NotFound(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockRecruitee) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockRecruitee) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a specific path.
func (m *MockRecruitee) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockRecruitee) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// CandidateEntry is one item of a mocked candidate list.
type CandidateEntry struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// SetCandidates configures the list endpoint of a container.
func (m *MockRecruitee) SetCandidates(containerID string, candidates ...CandidateEntry) {
	if candidates == nil {
		candidates = []CandidateEntry{}
	}
	body, _ := json.Marshal(map[string]any{
		"container": map[string]any{"candidates": candidates},
	})
	m.SetResponse(ContainerPath(containerID), NewJSONResponse(string(body)))
}

// SetCandidate configures the detail endpoint of one candidate. A nil
// detail produces {"candidate": null}.
func (m *MockRecruitee) SetCandidate(containerID string, id int, detail map[string]any) {
	body, _ := json.Marshal(map[string]any{"candidate": detail})
	m.SetResponse(CandidatePath(containerID, id), NewJSONResponse(string(body)))
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockRecruitee) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// GetPathCount returns how often a path was requested.
func (m *MockRecruitee) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths[path]
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockRecruitee) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// ContainerPath returns the list endpoint path of a container.
func ContainerPath(containerID string) string {
	return "/share/containers/" + containerID
}

// CandidatePath returns the detail endpoint path of a candidate.
func CandidatePath(containerID string, id int) string {
	return fmt.Sprintf("/share/containers/%s/candidates/%d", containerID, id)
}

// NewJSONResponse creates a 200 OK JSON response.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewFileResponse creates a 200 OK binary response with the given type.
func NewFileResponse(contentType, body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": contentType,
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "Not found"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
