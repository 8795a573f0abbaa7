package config

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLoadFromPositionalArguments(t *testing.T) {
	flags := pflag.NewFlagSet("lisod", pflag.ContinueOnError)
	RegisterFlags(flags)

	positional := []string{
		"8080", "8443", "/tmp/lisod.log", "/tmp/lisod.lock",
		"./www", "/usr/bin/cgi-echo", "/etc/liso/key.pem", "/etc/liso/cert.pem",
	}
	cfg, err := Load(flags, positional)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 8080 || cfg.HTTPSPort != 8443 {
		t.Fatalf("ports = %d/%d, want 8080/8443", cfg.HTTPPort, cfg.HTTPSPort)
	}
	if cfg.WWWFolder != "./www" {
		t.Fatalf("WWWFolder = %q, want ./www", cfg.WWWFolder)
	}
	if cfg.CGIPath != "/usr/bin/cgi-echo" {
		t.Fatalf("CGIPath = %q, want /usr/bin/cgi-echo", cfg.CGIPath)
	}
}

func TestLoadRejectsWrongPositionalCount(t *testing.T) {
	flags := pflag.NewFlagSet("lisod", pflag.ContinueOnError)
	RegisterFlags(flags)

	_, err := Load(flags, []string{"8080", "8443"})
	if err == nil {
		t.Fatalf("Load did not reject a short positional argument list")
	}
}

func TestLoadFromFlagsOnly(t *testing.T) {
	flags := pflag.NewFlagSet("lisod", pflag.ContinueOnError)
	RegisterFlags(flags)
	if err := flags.Parse([]string{"--http_port=9090", "--www_folder=/srv/www"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(flags, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 9090 {
		t.Fatalf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.WWWFolder != "/srv/www" {
		t.Fatalf("WWWFolder = %q, want /srv/www", cfg.WWWFolder)
	}
}
