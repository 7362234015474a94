// Package testutil holds small helpers shared by package tests.
package testutil

import (
	"os"
	"testing"
)

// CreateTempfile writes the given content to a fresh temporary file and
// returns it. The caller owns the cleanup via DeleteTempfile.
func CreateTempfile(b []byte, t *testing.T) *os.File {
	f, err := os.CreateTemp("", "sge-autoscaler-")
	if err != nil {
		t.Fatal(err)
	}
	if len(b) > 0 {
		if _, err := f.Write(b); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return f
}

// DeleteTempfile removes a temporary file created with CreateTempfile.
func DeleteTempfile(f *os.File, t *testing.T) {
	if err := os.Remove(f.Name()); err != nil {
		t.Fatal(err)
	}
}
