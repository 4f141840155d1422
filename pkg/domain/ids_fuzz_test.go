//go:build go1.18

package domain

import (
	"strings"
	"testing"
)

// FuzzParseMessageHash checks that parsing never panics on arbitrary input and
// that every accepted hash survives a round trip through its canonical key.
func FuzzParseMessageHash(f *testing.F) {
	f.Add("")
	f.Add("0xabc123")
	f.Add("0x" + strings.Repeat("f", 64))
	f.Add("0x" + strings.Repeat("0", 64))
	f.Add("'; DROP TABLE messages;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		h, err := ParseMessageHash(input)
		if err != nil {
			if h != "" {
				t.Errorf("error with non-empty hash %q", h)
			}
			return
		}
		if !strings.HasPrefix(string(h), "0x") {
			t.Errorf("accepted hash %q lacks 0x prefix", h)
		}
		again, err := ParseMessageHash(h.Key())
		if err != nil {
			t.Fatalf("canonical key %q rejected: %v", h.Key(), err)
		}
		if again.Key() != h.Key() {
			t.Errorf("key mismatch: %q vs %q", again.Key(), h.Key())
		}
	})
}
