package security

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var _ SSRFGuard = (*Guard)(nil)

func TestNewSafeClient_Timeout(t *testing.T) {
	client := NewGuard().NewSafeClient(5*time.Second, 5*1024*1024)
	if client.Timeout != 5*time.Second {
		t.Errorf("expected timeout %v, got %v", 5*time.Second, client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport")
	}
}

// httptestサーバーは127.0.0.1で起動されるため、safeurlがブロックする。
func TestNewSafeClient_BlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewGuard().NewSafeClient(5*time.Second, 1024)
	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

func TestLimitedTransport_TruncatesBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("a", 100))
	}))
	defer ts.Close()

	client := &http.Client{Transport: &limitedTransport{base: http.DefaultTransport, limit: 10}}
	resp, err := client.Get(ts.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(body) != 10 {
		t.Errorf("len(body) = %d, want 10", len(body))
	}
}

func TestNewSafeClient_RedirectCap(t *testing.T) {
	client := NewGuard().NewSafeClient(time.Second, 0)
	via := make([]*http.Request, MaxRedirects)
	req, _ := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	if err := client.CheckRedirect(req, via); !errors.Is(err, ErrTooManyRedirects) {
		t.Errorf("CheckRedirect error = %v, want ErrTooManyRedirects", err)
	}
}

func TestValidateURL_Allowed(t *testing.T) {
	guard := NewGuard()
	for _, u := range []string{
		"https://example.com",
		"https://www.statnews.com/2026/02/02/story/",
		"http://feeds.npr.org/1001/rss.xml",
	} {
		if err := guard.ValidateURL(u); err != nil {
			t.Errorf("ValidateURL(%q) returned error: %v", u, err)
		}
	}
}

func TestValidateURL_Rejected(t *testing.T) {
	guard := NewGuard("metadata.internal")
	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"no scheme", "not-a-url"},
		{"ftp", "ftp://example.com/news"},
		{"file", "file:///etc/passwd"},
		{"private 10/8", "http://10.0.0.1/news"},
		{"private 172.16/12", "http://172.31.255.255/news"},
		{"private 192.168/16", "http://192.168.1.100/news"},
		{"loopback", "http://127.0.0.2/news"},
		{"localhost", "http://localhost/news"},
		{"metadata", "http://169.254.169.254/latest/meta-data/"},
		{"zero", "http://0.0.0.0/news"},
		{"ipv6 loopback", "http://[::1]/news"},
		{"extra blocked host", "https://METADATA.internal/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := guard.ValidateURL(tt.url); err == nil {
				t.Errorf("ValidateURL(%q) should have returned error", tt.url)
			}
		})
	}
}
