package models

import "testing"

func TestStatusStringCoversEveryDefinedValue(t *testing.T) {
	cases := map[Status]string{
		StatusCreated:   "Created",
		StatusProcessed: "Processed",
		StatusSent:      "Sent",
		StatusFailed:    "Failed",
		StatusStopped:   "Stopped",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", status, got, want)
		}
	}
}

func TestStatusStringHandlesUnknownValue(t *testing.T) {
	if got := Status(99).String(); got != "Unknown" {
		t.Errorf("Status(99).String() = %q, want %q", got, "Unknown")
	}
}
