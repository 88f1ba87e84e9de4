package uploads

import "testing"

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"resume.pdf":             "resume.pdf",
		"../../etc/passwd":       "passwd",
		"weird name!!.pdf":       "weird_name_.pdf",
		"":                       "upload",
		"....":                   "upload",
		"a/b/c.txt":              "c.txt",
	}
	for in, want := range cases {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
