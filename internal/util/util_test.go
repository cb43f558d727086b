package util

import "testing"

func TestIsValidIPv4(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1":       true,
		"0.0.0.0":         true,
		"255.255.255.255": true,
		"256.0.0.1":       false,
		"1.2.3":           false,
		"01.2.3.4":        false,
		"a.b.c.d":         false,
	}
	for in, want := range cases {
		if got := IsValidIPv4(in); got != want {
			t.Errorf("IsValidIPv4(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestIsValidPort(t *testing.T) {
	if !IsValidPort("8080") {
		t.Error("expected 8080 to be valid")
	}
	if IsValidPort("0") {
		t.Error("expected 0 to be invalid")
	}
	if IsValidPort("70000") {
		t.Error("expected 70000 to be invalid")
	}
	if IsValidPort("abc") {
		t.Error("expected non-numeric to be invalid")
	}
}

func TestParseUintOverflow(t *testing.T) {
	if _, err := ParseUint("99999999999999999999999999"); err == nil {
		t.Error("expected overflow error")
	}
	n, err := ParseUint("413")
	if err != nil || n != 413 {
		t.Errorf("ParseUint(413) = %d, %v", n, err)
	}
}

func TestURITargetAboveRoot(t *testing.T) {
	if !URITargetAboveRoot("/../../etc/passwd") {
		t.Error("expected escape to be detected")
	}
	if URITargetAboveRoot("/a/b/../c") {
		t.Error("expected in-bounds traversal to be allowed")
	}
}

func TestURIFormatOK(t *testing.T) {
	if !URIFormatOK("/index.html") {
		t.Error("expected plain path to be ok")
	}
	if URIFormatOK("/a<b>") {
		t.Error("expected angle brackets to be rejected")
	}
	if URIFormatOK("/a\x01b") {
		t.Error("expected control byte to be rejected")
	}
}

func TestExtractValue(t *testing.T) {
	src := `form-data; name="file"; filename="a.txt"`
	if got := ExtractValue(src, "name"); got != "file" {
		t.Errorf("ExtractValue(name) = %q", got)
	}
	if got := ExtractQuotedValue(src, "filename"); got != "a.txt" {
		t.Errorf("ExtractQuotedValue(filename) = %q", got)
	}
}

func TestBasename(t *testing.T) {
	if got := Basename("../../etc/passwd"); got != "passwd" {
		t.Errorf("Basename = %q", got)
	}
	if got := Basename("a.txt"); got != "a.txt" {
		t.Errorf("Basename = %q", got)
	}
}
