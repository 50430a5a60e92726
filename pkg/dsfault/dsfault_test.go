// Copyright 2025, Command Line Inc.
// SPDX-License-Identifier: Apache-2.0

package dsfault

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsMatchesKindNotMessage(t *testing.T) {
	err := Newf(NoSuchFile, "%s does not exist", "/a/b")
	if !Is(err, NoSuchFile) {
		t.Errorf("expected Is(err, NoSuchFile) to be true")
	}
	if Is(err, AlreadyExists) {
		t.Errorf("expected Is(err, AlreadyExists) to be false")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(Io, cause, "flush failed")
	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is to unwrap to cause")
	}
	if !Is(err, Io) {
		t.Errorf("expected Is(err, Io) to be true")
	}
}

func TestOf(t *testing.T) {
	err := New(DirectoryNotEmpty, "not empty")
	kind, ok := Of(err)
	if !ok || kind != DirectoryNotEmpty {
		t.Errorf("Of(err) = %v, %v, want DirectoryNotEmpty, true", kind, ok)
	}
	_, ok = Of(errors.New("plain"))
	if ok {
		t.Errorf("Of(plain error) should report false")
	}
}

func TestErrorStringIncludesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Io, cause, "flush")
	msg := err.Error()
	if msg == "" || !errors.Is(fmt.Errorf("%w", err), cause) {
		t.Errorf("expected wrapped error message to retain cause chain, got %q", msg)
	}
	if !strings.Contains(msg, "boom") {
		t.Errorf("expected error string to include the cause, got %q", msg)
	}
}
