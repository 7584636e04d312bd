package auth

import (
	"errors"
	"testing"

	"github.com/danmuck/hostlink/internal/testutil/testlog"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)

	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	testlog.Start(t)

	cases := map[string]struct {
		header string
		want   string
		ok     bool
	}{
		"bearer":      {header: "Bearer abc", want: "abc", ok: true},
		"case":        {header: "bearer  abc ", want: "abc", ok: true},
		"basic":       {header: "Basic abc", ok: false},
		"missing":     {header: "", ok: false},
		"scheme only": {header: "Bearer", ok: false},
		"empty token": {header: "Bearer   ", ok: false},
	}
	for name, tc := range cases {
		got, ok := BearerToken(tc.header)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%s: BearerToken(%q) = %q, %v; want %q, %v", name, tc.header, got, ok, tc.want, tc.ok)
		}
	}
}
