package sanitize

import "testing"

func TestStripHTML(t *testing.T) {
	cases := map[string]string{
		"<b>hot</b> lead":                       "hot lead",
		"&lt;script&gt;alert(1)&lt;/script&gt;": "alert(1)",
		"  plain  ":                             "plain",
	}
	for in, want := range cases {
		if got := StripHTML(in); got != want {
			t.Errorf("StripHTML(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTextPtrNil(t *testing.T) {
	if TextPtr(nil) != nil {
		t.Fatal("expected nil")
	}
}
