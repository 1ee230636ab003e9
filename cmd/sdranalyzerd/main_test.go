package main

import (
	"net"
	"os"
	"testing"
)

func TestDefaultConfigPathFallsBackWhenUnset(t *testing.T) {
	os.Unsetenv("SDRCORE_CONFIG")
	if got := defaultConfigPath(); got != "./sdrcore.yaml" {
		t.Fatalf("defaultConfigPath() = %q, want ./sdrcore.yaml", got)
	}
}

func TestDefaultConfigPathHonorsEnvOverride(t *testing.T) {
	t.Setenv("SDRCORE_CONFIG", "/etc/sdrcore/custom.yaml")
	if got := defaultConfigPath(); got != "/etc/sdrcore/custom.yaml" {
		t.Fatalf("defaultConfigPath() = %q, want the env override", got)
	}
}

func TestResolveInterfacesRejectsUnknownName(t *testing.T) {
	if _, err := resolveInterfaces([]string{"definitely-not-a-real-interface-0"}); err == nil {
		t.Fatal("expected an error for a nonexistent interface name")
	}
}

func TestResolveInterfacesEmptyInputReturnsEmptySlice(t *testing.T) {
	ifaces, err := resolveInterfaces(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ifaces) != 0 {
		t.Fatalf("got %d interfaces, want 0", len(ifaces))
	}
}

func TestHostnameNeverReturnsEmptyString(t *testing.T) {
	if hostname() == "" {
		t.Fatal("hostname() returned an empty string")
	}
}

func TestDiscoveryGroupMatchesSpecifiedAddress(t *testing.T) {
	want := &net.UDPAddr{IP: net.ParseIP("224.4.4.4"), Port: 5555}
	if !discoveryGroup.IP.Equal(want.IP) || discoveryGroup.Port != want.Port {
		t.Fatalf("discoveryGroup = %v, want %v", discoveryGroup, want)
	}
}
