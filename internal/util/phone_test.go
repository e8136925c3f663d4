package util

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"(512) 555-0100", "5125550100"},
		{"+1 512 555 0100", "5125550100"},
		{"15125550100", "5125550100"},
		{"555-0100", "5550100"},
		{"abc", ""},
	}
	for _, c := range cases {
		if got := NormalizePhone(c.in); got != c.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestForTwilio(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"5125550100", "+15125550100"},
		{"15125550100", "+15125550100"},
		{"+1 (512) 555-0100", "+15125550100"},
		{"445550100", "+445550100"},
	}
	for _, c := range cases {
		if got := ForTwilio(c.in); got != c.want {
			t.Errorf("ForTwilio(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestForRingCentral(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"5125550100", "15125550100"},
		{"15125550100", "15125550100"},
		{"+1-512-555-0100", "15125550100"},
		{"445550100", "445550100"},
	}
	for _, c := range cases {
		if got := ForRingCentral(c.in); got != c.want {
			t.Errorf("ForRingCentral(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestTwilioRoundTrip(t *testing.T) {
	for _, x := range []string{"5125550100", "2145550199", "0000000000", "9999999999"} {
		n := NormalizePhone(x)
		if got := NormalizePhone(ForTwilio(n)); got != n {
			t.Fatalf("round trip %q: got %q", x, got)
		}
		if got := NormalizePhone(ForRingCentral(n)); got != n {
			t.Fatalf("ringcentral round trip %q: got %q", x, got)
		}
	}
}

func TestValidPhone(t *testing.T) {
	if !ValidPhone("(650) 253-0000") {
		t.Fatalf("expected US number to be valid")
	}
	if ValidPhone("") || ValidPhone("12") || ValidPhone("5550000") {
		t.Fatalf("expected short input to be invalid")
	}
}
