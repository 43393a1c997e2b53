package web

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestProxiedRealIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    []string
		realIP string
		want   string
	}{
		{"loopback uses nearest proxy entry", "127.0.0.1:5000", []string{"6.6.6.6, 203.0.113.9"}, "", "203.0.113.9"},
		{"loopback last header wins", "[::1]:5000", []string{"6.6.6.6", "198.51.100.4"}, "", "198.51.100.4"},
		{"loopback ignores x-real-ip", "127.0.0.1:5000", nil, "6.6.6.6", "127.0.0.1:5000"},
		{"loopback garbage entry", "127.0.0.1:5000", []string{"not-an-ip"}, "", "127.0.0.1:5000"},
		{"remote peer headers ignored", "192.0.2.7:4000", []string{"203.0.113.9"}, "6.6.6.6", "192.0.2.7:4000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := proxiedRealIP(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
				req.Header.Set("True-Client-IP", tt.realIP)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoginLimitIgnoresSpoofedHeaders(t *testing.T) {
	ready := true
	srv := testServer(t, "1234", &ready)

	codes := map[int]int{}
	for i := 0; i < 20; i++ {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/auth/login", strings.NewReader(`{"pin":"0000"}`))
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.1.0.%d", i))
		req.Header.Set("True-Client-IP", fmt.Sprintf("10.2.0.%d", i))
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.3.0.%d, 203.0.113.9", i))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		codes[resp.StatusCode]++
	}
	if codes[http.StatusUnauthorized] != 10 || codes[http.StatusTooManyRequests] != 10 {
		t.Errorf("status counts = %v, want 10 unauthorized then 10 rate limited", codes)
	}
}
