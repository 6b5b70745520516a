package symbols

import "testing"

func TestDemangle(t *testing.T) {
	testCases := []struct {
		name    string
		in      string
		want    string
		display string
	}{
		{name: "plain C", in: "main", want: "main", display: ""},
		{name: "C++ function", in: "_Z3fooi", want: "foo(int)", display: "foo(int)"},
		{name: "C++ namespace", in: "_ZN2ns3barEv", want: "ns::bar()", display: "ns::bar()"},
	}

	c := NewCache()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Demangle(tc.in); got != tc.want {
				t.Errorf("Demangle(%q) = %q, want %q", tc.in, got, tc.want)
			}
			if got := c.Display(tc.in); got != tc.display {
				t.Errorf("Display(%q) = %q, want %q", tc.in, got, tc.display)
			}
		})
	}

	entries, hits := c.Stats()
	if entries != len(testCases) {
		t.Errorf("entries = %d, want %d", entries, len(testCases))
	}
	if hits != len(testCases) {
		t.Errorf("hits = %d, want %d", hits, len(testCases))
	}
}

func TestShort(t *testing.T) {
	testCases := []struct {
		in, want string
	}{
		{"main", "main"},
		{"foo(int)", "foo"},
		{"ns::bar<std::pair<int, int> >(int)", "ns::bar<std::pair<int, int> >"},
	}
	for _, tc := range testCases {
		if got := Short(tc.in); got != tc.want {
			t.Errorf("Short(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
