package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/v1/accounts/abc":              "/v1/accounts/:id",
		"/v1/accounts/abc/block":        "/v1/accounts/:id/block",
		"/v1/accounts/abc/passes":       "/v1/accounts/:id/passes",
		"/v1/passes/p1":                 "/v1/passes/:id",
		"/v1/passes/p1/use":             "/v1/passes/:id/use",
		"/v1/passes?car=AB123":          "/v1/passes",
		"/v1/accounts/abc/extra/deeper": "/v1/accounts/abc/extra/deeper",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
