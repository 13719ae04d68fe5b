package keypath

import "testing"

func TestParseRoundTrip(t *testing.T) {
	tests := []string{
		":server/:status",
		"server/:status",
		":public_ip",
		"maestro/image_name",
		"a/b/c",
		":meta_data/network_name",
	}

	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			got := Parse(s).FullPath()
			if got != s {
				t.Errorf("Expected %q, got %q", s, got)
			}
		})
	}
}

func TestParseLiteral(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"network_name", 1},
		{"maestro#image_name", 1},
		{"a::b", 1},
		{"/", 1},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			kp := Parse(tt.input)
			if kp.Len() != tt.want {
				t.Fatalf("Expected %d segments, got %d", tt.want, kp.Len())
			}
			if kp.FullPath() != tt.input {
				t.Errorf("Expected %q, got %q", tt.input, kp.FullPath())
			}
		})
	}
}

func TestParseSymbol(t *testing.T) {
	kp := Parse(Symbol("server"))
	if kp.Len() != 1 {
		t.Fatalf("Expected 1 segment, got %d", kp.Len())
	}
	if !kp.Last().Symbol {
		t.Error("Expected symbol segment")
	}
	if kp.FullPath() != ":server" {
		t.Errorf("Expected :server, got %s", kp.FullPath())
	}
	if kp.String() != "server" {
		t.Errorf("Expected server, got %s", kp.String())
	}
}

func TestParseArray(t *testing.T) {
	kp := Parse([]any{Symbol("server"), "meta_data", Symbol("name")})
	if kp.FullPath() != ":server/meta_data/:name" {
		t.Errorf("Unexpected full path %s", kp.FullPath())
	}
	if kp.String() != "server/meta_data/name" {
		t.Errorf("Unexpected plain path %s", kp.String())
	}
	if kp.Key() != "name" {
		t.Errorf("Expected last key name, got %s", kp.Key())
	}

	again := Parse(kp.Segments())
	if !again.Equal(kp) {
		t.Error("Expected segment list to round-trip")
	}
}

func TestParseUnsupported(t *testing.T) {
	for _, v := range []any{42, nil, 3.14, map[string]string{}, []any{1}} {
		if kp := Parse(v); !kp.Empty() {
			t.Errorf("Expected empty path for %v, got %s", v, kp.FullPath())
		}
	}
}
