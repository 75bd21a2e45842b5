// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"strings"
	"testing"
)

func TestRunStatusValid(t *testing.T) {
	for _, s := range []RunStatus{StatusPending, StatusRunning, StatusSuccess, StatusFailed} {
		if !s.Valid() {
			t.Errorf("%q.Valid() = false", s)
		}
	}
	if RunStatus("cancelled").Valid() {
		t.Error(`"cancelled".Valid() = true`)
	}
}

func TestRunStatusTerminal(t *testing.T) {
	cases := map[RunStatus]bool{
		StatusPending: false,
		StatusRunning: false,
		StatusSuccess: true,
		StatusFailed:  true,
	}
	for s, want := range cases {
		if got := s.Terminal(); got != want {
			t.Errorf("%q.Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestStatusForExitCode(t *testing.T) {
	if got := StatusForExitCode(0); got != StatusSuccess {
		t.Errorf("StatusForExitCode(0) = %q", got)
	}
	if got := StatusForExitCode(137); got != StatusFailed {
		t.Errorf("StatusForExitCode(137) = %q", got)
	}
}

func TestValidateScriptName(t *testing.T) {
	if err := ValidateScriptName("reboot-all"); err != nil {
		t.Errorf("ValidateScriptName: %v", err)
	}
	if err := ValidateScriptName(""); err == nil {
		t.Error("empty name accepted")
	}
	if err := ValidateScriptName(strings.Repeat("a", MaxScriptNameLength+1)); err == nil {
		t.Error("oversized name accepted")
	}
}

func TestDispatchFailure(t *testing.T) {
	exitCode := 1
	cases := []struct {
		name string
		run  Run
		want bool
	}{
		{"failed without exit code", Run{Status: StatusFailed}, true},
		{"failed with exit code", Run{Status: StatusFailed, ExitCode: &exitCode}, false},
		{"pending", Run{Status: StatusPending}, false},
		{"success", Run{Status: StatusSuccess}, false},
	}
	for _, tc := range cases {
		if got := tc.run.DispatchFailure(); got != tc.want {
			t.Errorf("%s: DispatchFailure() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
