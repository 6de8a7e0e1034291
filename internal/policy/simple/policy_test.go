// Package simple includes tests for the host-allowlist policy.
package simple

import "testing"

// TestEmptyPolicyAllowsAll ensures an unconfigured policy is permissive.
func TestEmptyPolicyAllowsAll(t *testing.T) {
	t.Parallel()

	p := New()
	if !p.AllowFetch("https://anywhere.test/page") {
		t.Fatal("expected empty policy to allow all fetches")
	}
}

// TestPolicyScopesToHosts checks allow and deny decisions.
func TestPolicyScopesToHosts(t *testing.T) {
	t.Parallel()

	p := New("https://shop.test/catalogue/", "Mirror.Shop.Test")

	cases := []struct {
		url  string
		want bool
	}{
		{"https://shop.test/catalogue/a.html", true},
		{"http://shop.test/media/a.jpg", true},
		{"https://mirror.shop.test/a.html", true},
		{"https://evil.test/a.html", false},
		{"not a url", false},
	}
	for _, tc := range cases {
		if got := p.AllowFetch(tc.url); got != tc.want {
			t.Errorf("AllowFetch(%q) = %v; want %v", tc.url, got, tc.want)
		}
	}
}
