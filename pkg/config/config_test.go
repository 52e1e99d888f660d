package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AIGOS_ORGANIZATION", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:8443" {
		t.Errorf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.TokenHeader != "X-AIGOS-Token" {
		t.Errorf("expected default token header, got %q", cfg.TokenHeader)
	}
	if cfg.GlobalMaxChildDepth != 5 {
		t.Errorf("expected default global max child depth 5, got %d", cfg.GlobalMaxChildDepth)
	}
}

func TestValidate_RequiresIdentityAndPolicy(t *testing.T) {
	cfg := &Config{TokenValidity: 0}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error on empty config")
	}
}

func TestValidate_RevocationRequiresURL(t *testing.T) {
	cfg := &Config{
		Organization:    "acme",
		SignerKeyID:     "key-1",
		SignerKeyPath:   "/etc/aigos/key.pem",
		TrustPolicyPath: "/etc/aigos/policy.yaml",
		TokenValidity:   1,
		CheckRevocation: true,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error when revocation is enabled without a URL")
	}
	cfg.RevocationURL = "https://ca.example.com/ocsp"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseCommaList(t *testing.T) {
	got := parseCommaList(" shell_exec, delete_file ,,")
	if len(got) != 2 || got[0] != "shell_exec" || got[1] != "delete_file" {
		t.Fatalf("unexpected parse result: %v", got)
	}
	if parseCommaList("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}
