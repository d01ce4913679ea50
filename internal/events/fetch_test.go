package events

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const sampleCSV = "query_id,position,num_results,clicked,doc_id\nq1,1,10,1,d1\nq1,2,10,0,d2\n"

func TestFetch_CSV(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/logs/events.csv" {
			t.Errorf("Expected path /logs/events.csv, got %s", r.URL.Path)
		}
		w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	c := NewClient(5*time.Second, 3, time.Millisecond)
	got, err := c.Fetch(context.Background(), server.URL+"/logs/events.csv")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(got) != 2 || !got[0].Clicked || got[1].DocumentID != "d2" {
		t.Errorf("Unexpected events: %+v", got)
	}
}

func TestFetch_Zip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("raw_events.csv")
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte(sampleCSV))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	c := NewClient(5*time.Second, 1, 0)
	got, err := c.Fetch(context.Background(), server.URL+"/raw_events.zip")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 events, got %d", len(got))
	}
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	c := NewClient(5*time.Second, 3, time.Millisecond)
	if _, err := c.Fetch(context.Background(), server.URL+"/events.csv"); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

func TestFetch_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(5*time.Second, 3, time.Millisecond)
	if _, err := c.Fetch(context.Background(), server.URL+"/missing.csv"); err == nil {
		t.Fatal("Expected error for 404")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single attempt, got %d", calls.Load())
	}
}

func TestFetch_GivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(5*time.Second, 2, time.Millisecond)
	if _, err := c.Fetch(context.Background(), server.URL+"/events.csv"); err == nil {
		t.Error("Expected error after exhausting retries")
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"./data/events.csv", "events.csv"},
		{"/tmp/raw_events.zip", "raw_events.zip"},
		{"https://example.com/logs/events.csv?day=1", "events.csv"},
		{"http://example.com", "http://example.com"},
	}
	for _, tt := range tests {
		if got := Name(tt.input); got != tt.want {
			t.Errorf("Name(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
