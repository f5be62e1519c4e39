package version

import "testing"

func TestVersionWithBuild(t *testing.T) {
	tests := []struct {
		build    string
		expected string
	}{
		{build: "", expected: "0.3.0"},
		{build: "rc1", expected: "0.3.0-rc1"},
		{build: "dirty-2024", expected: "0.3.0-dirty-2024"},
		{build: "bad build!", expected: "0.3.0"},
	}
	for _, test := range tests {
		version := versionWithBuild(test.build)
		if version != test.expected {
			t.Errorf("versionWithBuild(%q): expected %s but got %s", test.build, test.expected, version)
		}
	}
}
