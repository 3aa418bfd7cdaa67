package services

import (
	"testing"
)

func TestGenerateDeterministic(t *testing.T) {
	svc := &FingerprintService{}

	a := svc.Generate("Mozilla/5.0", "en-US,en;q=0.9", "gzip, deflate, br")
	b := svc.Generate("Mozilla/5.0", "en-US,en;q=0.9", "gzip, deflate, br")

	if a.Hash != b.Hash {
		t.Errorf("expected identical hashes, got %s and %s", a.Hash, b.Hash)
	}
	if len(a.Hash) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a.Hash))
	}
}

func TestGenerateDiffersByHeader(t *testing.T) {
	svc := &FingerprintService{}

	a := svc.Generate("Mozilla/5.0", "en-US", "gzip")
	b := svc.Generate("curl/8.0", "en-US", "gzip")

	if a.Hash == b.Hash {
		t.Error("different user agents should produce different hashes")
	}
}

func TestGenerateMissingHeaders(t *testing.T) {
	svc := &FingerprintService{}

	a := svc.Generate("", "", "")
	b := svc.Generate("", "", "")

	if a.Hash != b.Hash {
		t.Error("empty headers should still produce a stable hash")
	}
}

func TestGenerateTrimsWhitespace(t *testing.T) {
	svc := &FingerprintService{}

	a := svc.Generate("  Mozilla/5.0  ", "en-US", "gzip")
	b := svc.Generate("Mozilla/5.0", "en-US", "gzip")

	if a.Hash != b.Hash {
		t.Error("surrounding whitespace should not change the hash")
	}
}

func TestIPSubnet(t *testing.T) {
	tests := []struct {
		ip   string
		want string
	}{
		{"203.0.113.50", "203.0.113.0"},
		{"10.0.0.1", "10.0.0.0"},
		{"2001:0db8:85a3:0000:0000:8a2e:0370:7334", "2001:0db8:85a3:0000::"},
		{"2001:db8::1", "2001:0db8:0000:0000::"},
		{"::1", "0000:0000:0000:0000::"},
		{"not-an-ip", "unknown"},
		{"", "unknown"},
		{" 203.0.113.50 ", "203.0.113.0"},
	}

	for _, tt := range tests {
		if got := IPSubnet(tt.ip); got != tt.want {
			t.Errorf("IPSubnet(%q) = %q, want %q", tt.ip, got, tt.want)
		}
	}
}
