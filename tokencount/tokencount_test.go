package tokencount

import "testing"

func TestCounter_CountBasic(t *testing.T) {
	c := New()
	n := c.Count("gpt-4o", "hello world")
	if n <= 0 {
		t.Fatalf("expected positive token count, got %d", n)
	}
}

func TestCounter_CountEmpty(t *testing.T) {
	c := New()
	if n := c.Count("gpt-4o", ""); n != 0 {
		t.Fatalf("expected 0 tokens for empty text, got %d", n)
	}
}

func TestCounter_CachesEncodingAcrossCalls(t *testing.T) {
	c := New()
	c.Count("gpt-4o-mini", "first call")
	c.Count("gpt-4o-mini-2024-07-18", "second call")
	if len(c.encs) != 1 {
		t.Fatalf("expected a single cached encoding for shared o200k_base models, got %d", len(c.encs))
	}
}

func TestCounter_LongerTextHasMoreTokens(t *testing.T) {
	c := New()
	short := c.Count("gpt-4o", "hi")
	long := c.Count("gpt-4o", "this is a considerably longer sentence with many more words in it")
	if long <= short {
		t.Fatalf("expected longer text to have more tokens: short=%d long=%d", short, long)
	}
}

func TestEncodingForUnknownModelDefaultsToCl100k(t *testing.T) {
	if got := encodingFor("some-unknown-local-model"); got != "cl100k_base" {
		t.Fatalf("expected cl100k_base default, got %q", got)
	}
}
