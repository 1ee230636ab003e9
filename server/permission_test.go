package server

import (
	"testing"

	"github.com/skyloom-radio/sdrcore/config"
	"github.com/skyloom-radio/sdrcore/source"
)

func TestComputeMaskDefaultAllowGrantsEverything(t *testing.T) {
	u := config.UserEntry{User: "admin", DefaultAccess: "allow"}
	if got := ComputeMask(u); got != source.PermAll {
		t.Fatalf("mask = %#x, want PermAll", got)
	}
}

func TestComputeMaskDefaultDenyGrantsNothing(t *testing.T) {
	u := config.UserEntry{User: "guest", DefaultAccess: "deny"}
	if got := ComputeMask(u); got != 0 {
		t.Fatalf("mask = %#x, want 0", got)
	}
}

func TestComputeMaskExceptionRevokesFromAllow(t *testing.T) {
	u := config.UserEntry{User: "operator", DefaultAccess: "allow", Exceptions: []string{"^halt$"}}
	if err := u.CompileExceptions(); err != nil {
		t.Fatal(err)
	}
	mask := ComputeMask(u)
	if mask.Has(source.PermHalt) {
		t.Fatal("expected halt permission to be revoked by the exception")
	}
	if !mask.Has(source.PermSetFrequency) {
		t.Fatal("expected every other permission to remain granted")
	}
}

func TestComputeMaskExceptionGrantsFromDeny(t *testing.T) {
	u := config.UserEntry{User: "monitor", DefaultAccess: "deny", Exceptions: []string{"^set_frequency$"}}
	if err := u.CompileExceptions(); err != nil {
		t.Fatal(err)
	}
	mask := ComputeMask(u)
	if !mask.Has(source.PermSetFrequency) {
		t.Fatal("expected set_frequency to be granted by the exception")
	}
	if mask.Has(source.PermSetGain) {
		t.Fatal("expected every other permission to remain denied")
	}
}
