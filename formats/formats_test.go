package formats

import "testing"

func TestLoginReportSucceeded(t *testing.T) {
	t.Parallel()

	for _, testcase := range []struct {
		state     string
		succeeded bool
	}{
		{"authenticated", true},
		{"failed", false},
		{"unauthenticated", false},
		{"", false},
	} {
		report := LoginReport{State: testcase.state}
		if report.Succeeded() != testcase.succeeded {
			t.Fatalf("Succeeded() for state %q is %t, expected %t",
				testcase.state, report.Succeeded(), testcase.succeeded)
		}
	}
}
