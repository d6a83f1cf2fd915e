package directline

import "testing"

func TestClassifyErrorText(t *testing.T) {
	cases := []struct {
		name      string
		text      string
		wantClass ErrorClass
		wantMatch bool
	}{
		{"normal reply", "Your order ships tomorrow.", ErrorClassNone, false},
		{"generic failure", "An error has occurred, try again", ErrorClassGeneric, true},
		{"generic vague", "Sorry, something went wrong.", ErrorClassGeneric, true},
		{"actionable auth", "An error occurred: authentication failed", ErrorClassActionable, true},
		{"actionable timeout", "The request timed out, an error occurred", ErrorClassActionable, true},
		{"case insensitive", "AN ERROR HAS OCCURRED", ErrorClassGeneric, true},
		{"auth wording without failure phrasing", "Please authenticate with your PIN", ErrorClassNone, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			class, matched := classifyErrorText(tc.text)
			if matched != tc.wantMatch {
				t.Fatalf("matched = %v, want %v", matched, tc.wantMatch)
			}
			if class != tc.wantClass {
				t.Errorf("class = %q, want %q", class, tc.wantClass)
			}
		})
	}
}
