package stt

import "testing"

func TestCleanText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []string
		want string
	}{
		{"empty", nil, ""},
		{"blank segments", []string{"  ", "\n\t"}, ""},
		{"trim and collapse", []string{"  hello   there "}, "hello there"},
		{"joins segments", []string{" we need", "", "a quote\n", " by friday"}, "we need a quote by friday"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := CleanText(tt.in...); got != tt.want {
				t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
