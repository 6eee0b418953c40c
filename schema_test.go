package toolhost

import "testing"

func TestProtocolVersionSupported(t *testing.T) {
	cases := []struct {
		version string
		want    bool
	}{
		{"2025-03-26", true},
		{"2024-11-05", true},
		{"2023-01-01", false},
		{"", false},
		{"latest", false},
	}

	for _, c := range cases {
		if got := protocolVersionSupported(c.version); got != c.want {
			t.Errorf("protocolVersionSupported(%q) = %v, want %v", c.version, got, c.want)
		}
	}

	if !protocolVersionSupported(latestProtocolVersion) {
		t.Error("the version we offer at handshake must be one we accept")
	}
}
