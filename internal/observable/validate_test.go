package observable

import (
	"testing"

	"alertflow/internal/model"
)

func TestValidIP(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"8.8.8.8", true},
		{"203.0.113.7", true},
		{"192.168.1.50", true}, // private addresses are real indicators inside a network
		{"10.0.0.1", true},
		{"172.16.5.9", true},
		{"127.0.0.1", false},
		{"127.255.255.255", false},
		{"0.0.0.0", false},
		{"255.255.255.255", false},
		{"169.254.1.1", false},
		{"256.1.1.1", false},
		{"1.2.3", false},
		{"1.2.3.4.5", false},
		{"a.b.c.d", false},
		{"1.2.3.0004", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidIP(tt.value); got != tt.want {
			t.Errorf("ValidIP(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestValidDomain(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"evil.example.com", true},
		{"EXAMPLE.ORG", true},
		{"a-b.co", true},
		{"xn--bcher-kva.example", true},
		{"localhost", false},
		{"printer.local", false},
		{"single", false},
		{"-bad.example.com", false},
		{"bad-.example.com", false},
		{"example.c", false},
		{"example.123", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidDomain(tt.value); got != tt.want {
			t.Errorf("ValidDomain(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestValidEmail(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"attacker@evil.example.com", true},
		{"a@b.co", true},
		{"no-at-sign", false},
		{"@example.com", false},
		{"user@", false},
		{"user@localhost", false},
	}
	for _, tt := range tests {
		if got := ValidEmail(tt.value); got != tt.want {
			t.Errorf("ValidEmail(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestValidHash(t *testing.T) {
	md5 := "d41d8cd98f00b204e9800998ecf8427e"
	sha1 := "da39a3ee5e6b4b0d3255bfef95601890afd80709"
	sha256 := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	tests := []struct {
		value string
		typ   model.ObservableType
		want  bool
	}{
		{md5, model.ObservableMD5, true},
		{sha1, model.ObservableSHA1, true},
		{sha256, model.ObservableSHA256, true},
		{md5, model.ObservableSHA1, false},
		{sha1, model.ObservableMD5, false},
		{"zz1d8cd98f00b204e9800998ecf8427e", model.ObservableMD5, false},
		{"", model.ObservableMD5, false},
	}
	for _, tt := range tests {
		if got := ValidHash(tt.value, tt.typ); got != tt.want {
			t.Errorf("ValidHash(%q, %s) = %v, want %v", tt.value, tt.typ, got, tt.want)
		}
	}
}

func TestValidCVE(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"CVE-2024-12345", true},
		{"cve-2021-44228", true},
		{"CVE-1999-0001", true},
		{"CVE-2099-1234567", true},
		{"CVE-1998-0001", false},
		{"CVE-2100-0001", false},
		{"CVE-2024-123", false},
		{"CVE-2024-12345678", false},
		{"CVE-2024-abcd", false},
		{"2024-12345", false},
	}
	for _, tt := range tests {
		if got := ValidCVE(tt.value); got != tt.want {
			t.Errorf("ValidCVE(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
