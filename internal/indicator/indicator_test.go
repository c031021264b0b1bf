package indicator

import (
	"errors"
	"testing"
)

func TestParse_Classification(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  Kind
		value string
	}{
		{"ipv4", "8.8.8.8", KindIP, "8.8.8.8"},
		{"ipv6", "2001:db8::1", KindIP, "2001:db8::1"},
		{"ipv6 expanded", "2001:0db8:0000:0000:0000:0000:0000:0001", KindIP, "2001:db8::1"},
		{"domain", "example.com", KindDomain, "example.com"},
		{"domain uppercase", "Example.COM", KindDomain, "example.com"},
		{"domain trailing dot", "example.com.", KindDomain, "example.com"},
		{"subdomain", "a.b.example.co.uk", KindDomain, "a.b.example.co.uk"},
		{"md5", "d41d8cd98f00b204e9800998ecf8427e", KindHash, "d41d8cd98f00b204e9800998ecf8427e"},
		{"sha1 uppercase", "DA39A3EE5E6B4B0D3255BFEF95601890AFD80709", KindHash, "da39a3ee5e6b4b0d3255bfef95601890afd80709"},
		{"sha256", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", KindHash, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"whitespace trimmed", "  8.8.4.4 ", KindIP, "8.8.4.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ind, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.input, err)
			}
			if ind.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", ind.Kind, tt.kind)
			}
			if ind.Value != tt.value {
				t.Errorf("value = %q, want %q", ind.Value, tt.value)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"nodots",
		"1.2",
		"-bad.example.com",
		"bad-.example.com",
		"exa mple.com",
		"d41d8cd98f00b204e9800998ecf8427", // 31 hex chars
		"zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz", // 32 chars, not hex
		"999.999.999.999",
	}

	for _, input := range inputs {
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q) should fail", input)
		} else if !errors.Is(err, ErrInvalidIndicator) {
			t.Errorf("Parse(%q) error should wrap ErrInvalidIndicator, got %v", input, err)
		}
	}
}

func TestClassify(t *testing.T) {
	if got := Classify("8.8.8.8"); got != KindIP {
		t.Errorf("Classify ip = %q", got)
	}
	if got := Classify("example.com"); got != KindDomain {
		t.Errorf("Classify domain = %q", got)
	}
	if got := Classify("d41d8cd98f00b204e9800998ecf8427e"); got != KindHash {
		t.Errorf("Classify hash = %q", got)
	}
	if got := Classify("not an indicator"); got != "" {
		t.Errorf("Classify invalid = %q, want empty", got)
	}
}

func TestKey_IncludesKind(t *testing.T) {
	ind, err := Parse("8.8.8.8")
	if err != nil {
		t.Fatal(err)
	}
	if ind.Key() != "ip:8.8.8.8" {
		t.Errorf("Key() = %q, want %q", ind.Key(), "ip:8.8.8.8")
	}
}
