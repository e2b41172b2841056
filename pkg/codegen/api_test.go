package codegen

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/rowguard/rowguard"
)

func TestTargets(t *testing.T) {
	got := Targets()
	want := []string{"go", "python", "typescript"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Targets() = %v, want %v", got, want)
	}
}

func TestRegistered(t *testing.T) {
	if !Registered("go") {
		t.Error("Registered(go) = false, want true")
	}
	if Registered("rust") {
		t.Error("Registered(rust) = true, want false")
	}
}

func TestGenerateUnknownTarget(t *testing.T) {
	_, err := Generate("rust", nil, nil)
	if err == nil {
		t.Fatal("expected error for unknown target")
	}
	if !strings.Contains(err.Error(), `unknown generator "rust"`) {
		t.Errorf("error = %v, want unknown generator message", err)
	}
	if !strings.Contains(err.Error(), "go, python, typescript") {
		t.Errorf("error = %v, want available targets listed", err)
	}
}

func TestGenerateGo(t *testing.T) {
	policies := []rowguard.CompiledPolicy{
		{Policy: rowguard.Policy{
			Entity:     "posts",
			Operation:  rowguard.OpSelect,
			Expression: "owner_id = current_user_id()",
		}},
	}

	var buf bytes.Buffer
	if err := GenerateGo(&buf, policies, nil); err != nil {
		t.Fatalf("GenerateGo error: %v", err)
	}

	code := buf.String()
	if !strings.HasPrefix(code, "// Code generated by rowguard. DO NOT EDIT.\n") {
		t.Error("generated source should carry the generated-code header")
	}
	if !strings.Contains(code, "package authz\n") {
		t.Error("generated source should default to package authz")
	}
	if !strings.Contains(code, `EntityPosts = "posts"`) {
		t.Error("generated source should declare entity constants")
	}
}
