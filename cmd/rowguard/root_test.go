package main

import "testing"

func TestResolveString(t *testing.T) {
	if got := resolveString("flag", "config", "default"); got != "flag" {
		t.Errorf("resolveString = %q, want flag value", got)
	}
	if got := resolveString("", "config", "default"); got != "config" {
		t.Errorf("resolveString = %q, want config value", got)
	}
	if got := resolveString("", "", "default"); got != "default" {
		t.Errorf("resolveString = %q, want default value", got)
	}
	if got := resolveString("", ""); got != "" {
		t.Errorf("resolveString = %q, want empty", got)
	}
}

func TestResolveBool(t *testing.T) {
	if !resolveBool(false, true) {
		t.Error("resolveBool(false, true) = false, want true")
	}
	if resolveBool(false, false) {
		t.Error("resolveBool(false, false) = true, want false")
	}
}

func TestResolveInt(t *testing.T) {
	if got := resolveInt(4, 8); got != 4 {
		t.Errorf("resolveInt = %d, want 4", got)
	}
	if got := resolveInt(0, 8); got != 8 {
		t.Errorf("resolveInt = %d, want 8", got)
	}
	if got := resolveInt(0, 0); got != 0 {
		t.Errorf("resolveInt = %d, want 0", got)
	}
}
