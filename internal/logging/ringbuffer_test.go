package logging

import "testing"

func TestRingBuffer(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		writes []string
		want   string
	}{
		{"partial", 16, []string{"hello"}, "hello"},
		{"exact fill", 5, []string{"abcde"}, "abcde"},
		{"wrap", 10, []string{"abcdefghij", "12345"}, "fghij12345"},
		{"split write", 8, []string{"AAAAAA", "BBBB"}, "AAAABBBB"},
		{"larger than capacity", 5, []string{"0123456789"}, "56789"},
		{"many small", 4, []string{"a", "b", "c", "d", "e"}, "bcde"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb := NewRingBuffer(tt.size)
			for _, w := range tt.writes {
				n, err := rb.Write([]byte(w))
				if err != nil || n != len(w) {
					t.Fatalf("Write(%q) = %d, %v", w, n, err)
				}
			}
			if got := string(rb.Bytes()); got != tt.want {
				t.Errorf("Bytes() = %q, want %q", got, tt.want)
			}
			if rb.Len() != len(tt.want) {
				t.Errorf("Len() = %d, want %d", rb.Len(), len(tt.want))
			}
		})
	}
}
