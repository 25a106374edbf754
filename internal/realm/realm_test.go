package realm

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "Example.COM", want: "example.com"},
		{in: "example.com.", want: "example.com"},
		{in: "  host.example.com  ", want: "host.example.com"},
		{in: "_acme-challenge.example.com", want: "_acme-challenge.example.com"},
		{in: "", wantErr: true},
		{in: ".", wantErr: true},
		{in: "a..b", wantErr: true},
		{in: ".example.com", wantErr: true},
		{in: "example.com..", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := Normalize(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidName) {
					t.Fatalf("Normalize(%q) error = %v, want ErrInvalidName", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		typ      Type
		value    string
		hostname string
		want     bool
	}{
		{"host exact", TypeHost, "home.example.com", "home.example.com", true},
		{"host case and dot", TypeHost, "home.example.com", "HOME.Example.com.", true},
		{"host child denied", TypeHost, "home.example.com", "a.home.example.com", false},
		{"host parent denied", TypeHost, "home.example.com", "example.com", false},

		{"subdomain apex", TypeSubdomain, "iot.example.com", "iot.example.com", true},
		{"subdomain child", TypeSubdomain, "iot.example.com", "device1.iot.example.com", true},
		{"subdomain grandchild", TypeSubdomain, "iot.example.com", "a.b.iot.example.com", true},
		{"subdomain other branch", TypeSubdomain, "iot.example.com", "device1.other.example.com", false},
		{"subdomain label boundary", TypeSubdomain, "iot.example.com", "notiot.example.com", false},
		{"subdomain suffix without dot", TypeSubdomain, "iot.example.com", "xiot.example.com", false},

		{"subdomain_only apex denied", TypeSubdomainOnly, "dynamic.example.com", "dynamic.example.com", false},
		{"subdomain_only child", TypeSubdomainOnly, "dynamic.example.com", "x.dynamic.example.com", true},
		{"subdomain_only label boundary", TypeSubdomainOnly, "dynamic.example.com", "xdynamic.example.com", false},
		{"subdomain_only wrong parent", TypeSubdomainOnly, "dynamic.example.com", "x.other.example.com", false},

		{"empty hostname", TypeSubdomain, "iot.example.com", "", false},
		{"empty labels", TypeSubdomain, "iot.example.com", "a..iot.example.com", false},
		{"leading dot", TypeSubdomain, "iot.example.com", ".iot.example.com", false},
		{"empty realm", TypeSubdomain, "", "iot.example.com", false},
		{"unknown type", Type("wildcard"), "iot.example.com", "a.iot.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Match(tt.typ, tt.value, tt.hostname)
			if got != tt.want {
				t.Errorf("Match(%s, %q, %q) = %v, want %v", tt.typ, tt.value, tt.hostname, got, tt.want)
			}
		})
	}
}

func TestMatch_SubdomainOnlyProperty(t *testing.T) {
	t.Parallel()

	values := []string{"v.example.com", "dyn.example.org", "a.b.c.example.net"}
	labels := []string{"x", "host1", "a-b", "_srv", "9"}

	for _, v := range values {
		if Match(TypeSubdomainOnly, v, v) {
			t.Errorf("apex %q matched its own subdomain_only realm", v)
		}
		for _, l := range labels {
			if !Match(TypeSubdomainOnly, v, l+"."+v) {
				t.Errorf("%q should match subdomain_only %q", l+"."+v, v)
			}
			if Match(TypeSubdomainOnly, v, l+v) {
				t.Errorf("%q should not match subdomain_only %q", l+v, v)
			}
			if Match(TypeSubdomainOnly, v, l+".other."+v[2:]) {
				t.Errorf("%q should not match subdomain_only %q", l+".other."+v[2:], v)
			}
		}
	}
}

func TestWithinDepth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		zone     string
		hostname string
		max      int
		want     bool
	}{
		{"apex", "example.com", "example.com", 1, true},
		{"one below zone", "example.com", "iot.example.com", 1, true},
		{"two below zone", "example.com", "a.iot.example.com", 1, false},
		{"unlimited", "example.com", "a.b.c.example.com", 0, true},
		{"depth two", "example.com", "a.iot.example.com", 2, true},
		{"outside zone", "example.com", "iot.example.net", 0, false},
		{"label boundary", "example.com", "notexample.com", 0, false},
		{"trailing dot and case", "Example.COM.", "A.example.com.", 1, true},
		{"invalid hostname", "example.com", "a..example.com", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := WithinDepth(tt.zone, tt.hostname, tt.max); got != tt.want {
				t.Errorf("WithinDepth(%q, %q, %d) = %v, want %v", tt.zone, tt.hostname, tt.max, got, tt.want)
			}
		})
	}
}

func TestParseType(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"host", "subdomain", "subdomain_only"} {
		if _, err := ParseType(s); err != nil {
			t.Errorf("ParseType(%q) error = %v", s, err)
		}
	}
	if _, err := ParseType("wildcard"); !errors.Is(err, ErrInvalidType) {
		t.Errorf("ParseType(wildcard) error = %v, want ErrInvalidType", err)
	}
}

func TestRelativeAbsolute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		zone     string
		hostname string
		relative string
	}{
		{"example.com", "example.com", "@"},
		{"example.com", "www.example.com", "www"},
		{"example.com", "a.b.example.com.", "a.b"},
		{"Example.com.", "HOME.example.com", "home"},
	}

	for _, tt := range tests {
		if got := Relative(tt.zone, tt.hostname); got != tt.relative {
			t.Errorf("Relative(%q, %q) = %q, want %q", tt.zone, tt.hostname, got, tt.relative)
		}
	}

	if got := Absolute("example.com", "@"); got != "example.com" {
		t.Errorf("Absolute(@) = %q", got)
	}
	if got := Absolute("example.com", "www"); got != "www.example.com" {
		t.Errorf("Absolute(www) = %q", got)
	}
	if got := Absolute("example.com.", "www.example.com."); got != "www.example.com" {
		t.Errorf("Absolute(fqdn) = %q", got)
	}
	if !InZone("example.com", "a.example.com") || InZone("example.com", "example.org") {
		t.Error("InZone mismatch")
	}
}
