package tools

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestCheckSSRF(t *testing.T) {
	cases := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"loopback_ip", "http://127.0.0.1/admin", true},
		{"loopback_name", "http://localhost:8080/", true},
		{"private_10", "http://10.0.0.5/", true},
		{"private_172", "http://172.16.1.1/", true},
		{"private_192", "http://192.168.1.1/router", true},
		{"link_local", "http://169.254.169.254/latest/meta-data/", true},
		{"cgnat", "http://100.64.0.1/", true},
		{"metadata_host", "http://metadata.google.internal/computeMetadata/", true},
		{"dot_internal", "http://db.prod.internal/", true},
		{"dot_local", "http://printer.local/", true},
		{"ipv6_loopback", "http://[::1]/", true},
		{"ipv6_unique_local", "http://[fd00::1]/", true},
		{"missing_host", "http:///path", true},
		{"public_ip", "http://93.184.216.34/", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := checkSSRF(tc.url)
			if tc.wantErr && err == nil {
				t.Errorf("checkSSRF(%q) = nil, want error", tc.url)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("checkSSRF(%q) = %v, want nil", tc.url, err)
			}
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	private := []string{"10.1.2.3", "127.0.0.1", "172.31.255.255", "192.168.0.1", "169.254.1.1", "::1", "fe80::1", "fc00::1"}
	for _, ip := range private {
		if !isPrivateIP(ip) {
			t.Errorf("isPrivateIP(%q) = false, want true", ip)
		}
	}
	public := []string{"8.8.8.8", "93.184.216.34", "2607:f8b0::1", "not-an-ip"}
	for _, ip := range public {
		if isPrivateIP(ip) {
			t.Errorf("isPrivateIP(%q) = true, want false", ip)
		}
	}
}

func TestWebCache_KeyCaseInsensitive(t *testing.T) {
	c := newWebCache(8, time.Minute)
	c.set("fetch:https://Example.COM/Page:markdown:1000", "cached page")
	got, ok := c.get("fetch:https://example.com/page:markdown:1000")
	if !ok || got != "cached page" {
		t.Errorf("mixed-case key should hit the same entry, got %q ok=%v", got, ok)
	}
}

func TestWebCache_TTLExpiry(t *testing.T) {
	c := newWebCache(8, 30*time.Millisecond)
	c.set("k", "v")
	if _, ok := c.get("k"); !ok {
		t.Fatal("entry should be present before TTL")
	}
	time.Sleep(80 * time.Millisecond)
	if _, ok := c.get("k"); ok {
		t.Error("entry should expire after TTL")
	}
}

func TestWebCache_EvictsOldestPastCapacity(t *testing.T) {
	c := newWebCache(2, time.Minute)
	c.set("a", "1")
	c.set("b", "2")
	c.set("c", "3")
	if _, ok := c.get("a"); ok {
		t.Error("oldest entry should be evicted at capacity")
	}
	for _, k := range []string{"b", "c"} {
		if _, ok := c.get(k); !ok {
			t.Errorf("entry %q should survive eviction", k)
		}
	}
}

func TestTruncateUTF8(t *testing.T) {
	cases := []struct {
		name string
		in   string
		max  int
	}{
		{"ascii", "hello world", 5},
		{"multibyte_at_cut", strings.Repeat("é", 10), 5},
		{"emoji_at_cut", "ab\U0001F600cd", 4},
		{"cjk", strings.Repeat("日本語", 4), 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := truncateUTF8(tc.in, tc.max)
			if len(got) > tc.max {
				t.Errorf("len = %d, want <= %d", len(got), tc.max)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncation split a rune: %q", got)
			}
			if !strings.HasPrefix(tc.in, got) {
				t.Errorf("result %q is not a prefix of input", got)
			}
		})
	}

	if got := truncateUTF8("short", 100); got != "short" {
		t.Errorf("under-limit string should pass through, got %q", got)
	}
}
