package render

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNextInclusion(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		offset int
		want   inclusionTag
		wantOK bool
	}{
		{"simple", "a<#b>c", 0, inclusionTag{start: 1, end: 5, content: "b"}, true},
		{"shortest span", "<#a><#b>", 0, inclusionTag{start: 0, end: 4, content: "a"}, true},
		{"from offset", "<#a><#b>", 4, inclusionTag{start: 4, end: 8, content: "b"}, true},
		{"escaped closer", `<#a\>b>`, 0, inclusionTag{start: 0, end: 7, content: `a\>b`}, true},
		{"escaped opener skipped", `\<#a><#b>`, 0, inclusionTag{start: 5, end: 9, content: "b"}, true},
		{"opener inside content", "<#a <#b>", 0, inclusionTag{start: 0, end: 8, content: "a <#b"}, true},
		{"empty content", "<#>", 0, inclusionTag{start: 0, end: 3, content: ""}, true},
		{"unterminated line then tag", "<#a\n<#b>", 0, inclusionTag{start: 4, end: 8, content: "b"}, true},
		{"none", "plain <b>text</b>", 0, inclusionTag{}, false},
		{"only opener", "<#", 0, inclusionTag{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := nextInclusion(tt.text, tt.offset)
			if ok != tt.wantOK {
				t.Fatalf("nextInclusion(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(inclusionTag{})); diff != "" {
				t.Errorf("nextInclusion(%q) mismatch (-want +got):\n%s", tt.text, diff)
			}
		})
	}
}

func TestParseInclusion(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantName   string
		wantParams Context
	}{
		{"name only", " profile ", "profile", nil},
		{"with params", `profile: {"user": "ann", "age": 3}`, "profile", Context{"user": "ann", "age": 3.0}},
		{"colon in params", `profile: {"url": "http://x"}`, "profile", Context{"url": "http://x"}},
		{"escaped colon in name", `a\:b: {"k": "v"}`, "a:b", Context{"k": "v"}},
		{"escaped closer in params", `p: {"k": "1 \> 0"}`, "p", Context{"k": "1 > 0"}},
		{"invalid params", `p: {k: v}`, "p", nil},
		{"empty params", `p:`, "p", nil},
		{"array params", `p: [1, 2]`, "p", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, params := parseInclusion(tt.content)
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
			if diff := cmp.Diff(tt.wantParams, params); diff != "" {
				t.Errorf("params mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSubstitute(t *testing.T) {
	ctx := Context{"name": "Ann", "n": 5}
	got := substitute("Hi {{ name }}, {{n}} new, {{ missing = none }}{{ gone }}.", ctx)
	want := "Hi Ann, 5 new, none."
	if got != want {
		t.Errorf("substitute = %q, want %q", got, want)
	}
}
