package services

import "testing"

func TestRenderTemplate(t *testing.T) {
	cases := []struct {
		name string
		body string
		vars TemplateVars
		want string
	}{
		{
			name: "all placeholders",
			body: "{callName}さん、{storeName}の{castName}です。前回は{lastVisit}でしたね",
			vars: TemplateVars{PlaceholderCallName: "ゆうき", PlaceholderCastName: "Mio", PlaceholderLastVisit: "2026-10-10", PlaceholderStoreName: "Club A"},
			want: "ゆうきさん、Club AのMioです。前回は2026-10-10でしたね",
		},
		{
			name: "repeated token replaced everywhere",
			body: "{callName} {callName}",
			vars: TemplateVars{PlaceholderCallName: "A"},
			want: "A A",
		},
		{
			name: "missing value leaves token",
			body: "hi {callName}, last {lastVisit}",
			vars: TemplateVars{PlaceholderCallName: "A"},
			want: "hi A, last {lastVisit}",
		},
		{
			name: "empty value leaves token",
			body: "{castName}",
			vars: TemplateVars{PlaceholderCastName: ""},
			want: "{castName}",
		},
		{
			name: "unknown placeholder verbatim",
			body: "{callName} {birthday}",
			vars: TemplateVars{PlaceholderCallName: "A", "birthday": "x"},
			want: "A {birthday}",
		},
		{
			name: "values not rescanned",
			body: "{callName}",
			vars: TemplateVars{PlaceholderCallName: "{castName}", PlaceholderCastName: "Mio"},
			want: "{castName}",
		},
		{
			name: "nil vars",
			body: "{callName}",
			want: "{callName}",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RenderTemplate(tc.body, tc.vars); got != tc.want {
				t.Fatalf("got %q; want %q", got, tc.want)
			}
		})
	}
}
