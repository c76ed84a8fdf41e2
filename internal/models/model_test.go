package models

import (
	"testing"
)

func TestModelName(t *testing.T) {
	if got := ModelName("llama", "7b"); got != "llama:7b" {
		t.Errorf("ModelName() = %q, want %q", got, "llama:7b")
	}
}

func TestSplitModelName(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantGroup   string
		wantVariant string
		wantErr     bool
	}{
		{"simple", "bert:base", "bert", "base", false},
		{"colon in group", "org:bert:large", "org:bert", "large", false},
		{"no colon", "bert", "", "", true},
		{"empty variant", "bert:", "", "", true},
		{"empty group", ":base", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group, variant, err := SplitModelName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SplitModelName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if group != tt.wantGroup || variant != tt.wantVariant {
				t.Errorf("SplitModelName(%q) = (%q, %q), want (%q, %q)", tt.input, group, variant, tt.wantGroup, tt.wantVariant)
			}
		})
	}
}

func TestVersionPrefix(t *testing.T) {
	if got := VersionPrefix("bert:base", 3); got != "bert:base/versions/3" {
		t.Errorf("VersionPrefix() = %q", got)
	}
}

func TestVersionStatus_Valid(t *testing.T) {
	for _, s := range []VersionStatus{VersionDeclared, VersionUploading, VersionCompleted} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	for _, s := range []VersionStatus{VersionAborted, "", "bogus"} {
		if s.Valid() {
			t.Errorf("%q should not be valid", s)
		}
	}
}

func TestJSONB_ScanAndValue(t *testing.T) {
	var j JSONB
	if err := j.Scan([]byte(`{"framework":"pytorch"}`)); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if j["framework"] != "pytorch" {
		t.Errorf("framework = %v, want pytorch", j["framework"])
	}

	if err := j.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error = %v", err)
	}
	if j == nil || len(j) != 0 {
		t.Errorf("Scan(nil) should produce an empty map, got %v", j)
	}

	var empty JSONB
	v, err := empty.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if string(v.([]byte)) != "{}" {
		t.Errorf("nil JSONB Value() = %s, want {}", v)
	}

	if err := j.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}
