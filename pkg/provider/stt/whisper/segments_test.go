package whisper

import "testing"

func TestJoinSegments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		segments []string
		want     string
	}{
		{name: "empty", segments: nil, want: ""},
		{name: "plain", segments: []string{" Hey Bible", " read to me "}, want: "Hey Bible read to me"},
		{name: "blank audio only", segments: []string{"[BLANK_AUDIO]"}, want: ""},
		{name: "mixed annotations", segments: []string{"(music)", " stop ", "[ Silence ]"}, want: "stop"},
		{name: "inline brackets kept", segments: []string{"read [chapter] two"}, want: "read [chapter] two"},
		{name: "nested brackets kept", segments: []string{"[a] and [b]"}, want: "[a] and [b]"},
		{name: "whitespace segments", segments: []string{"  ", "\t"}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := joinSegments(tt.segments); got != tt.want {
				t.Errorf("joinSegments(%q) = %q, want %q", tt.segments, got, tt.want)
			}
		})
	}
}
