package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"testing"
)

func captureExit(t *testing.T) (*bytes.Buffer, *int) {
	t.Helper()
	prevStderr, prevExit := stderr, exit
	t.Cleanup(func() { stderr, exit = prevStderr, prevExit })

	var buf bytes.Buffer
	code := -1
	stderr = &buf
	exit = func(c int) { code = c }
	return &buf, &code
}

func TestExitfWritesAndExitsOne(t *testing.T) {
	buf, code := captureExit(t)

	Exitf("fatal: %s", "something broke")

	if *code != 1 {
		t.Fatalf("exit code = %d, want 1", *code)
	}
	if got := buf.String(); got != "fatal: something broke\n" {
		t.Fatalf("stderr = %q", got)
	}
}

func TestExitOnError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		wantCode int
		wantOut  string
	}{
		{name: "nil", err: nil, wantCode: -1},
		{name: "help", err: fmt.Errorf("parse flags: %w", flag.ErrHelp), wantCode: 0},
		{name: "failure", err: errors.New("no entropy"), wantCode: 1, wantOut: "generate key: no entropy\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf, code := captureExit(t)

			ExitOnError("generate key", tc.err)

			if *code != tc.wantCode {
				t.Fatalf("exit code = %d, want %d", *code, tc.wantCode)
			}
			if got := buf.String(); got != tc.wantOut {
				t.Fatalf("stderr = %q, want %q", got, tc.wantOut)
			}
		})
	}
}
