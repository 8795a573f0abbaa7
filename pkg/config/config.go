// Package config defines the server's configuration record and loads it
// from the original 8-positional-argument CLI invocation via spf13/viper
// bound to spf13/pflag flags, the way the rest of the ambient stack favors
// the pack's configuration libraries over hand-rolled flag parsing.
package config

import (
	"fmt"
	"strconv"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the server's full configuration record, matching the original
// lisod invocation: http_port https_port log_file lock_file www_folder
// cgi_path private_key_file certificate_file.
type Config struct {
	HTTPPort        int    `mapstructure:"http_port"`
	HTTPSPort       int    `mapstructure:"https_port"`
	LogFileName     string `mapstructure:"log_file_name"`
	LockFile        string `mapstructure:"lock_file"`
	WWWFolder       string `mapstructure:"www_folder"`
	CGIPath         string `mapstructure:"cgi_path"`
	PrivateKeyFile  string `mapstructure:"private_key_file"`
	CertificateFile string `mapstructure:"certificate_file"`
}

// positionalOrder preserves the original lisod CLI's 8 positional
// arguments, so Load can map os.Args onto the named viper keys
// operators and the original startup scripts already expect.
var positionalOrder = []string{
	"http_port", "https_port", "log_file_name", "lock_file",
	"www_folder", "cgi_path", "private_key_file", "certificate_file",
}

// Load builds a viper instance bound to flags, binds the 8 legacy
// positional arguments onto their named keys, and unmarshals into a Config.
func Load(flags *pflag.FlagSet, positional []string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LISO")
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}

	if len(positional) > 0 {
		if len(positional) != len(positionalOrder) {
			return nil, fmt.Errorf("expected %d positional arguments (%v), got %d",
				len(positionalOrder), positionalOrder, len(positional))
		}
		for i, key := range positionalOrder {
			if key == "http_port" || key == "https_port" {
				port, err := strconv.Atoi(positional[i])
				if err != nil {
					return nil, fmt.Errorf("%s: %w", key, err)
				}
				v.Set(key, port)
				continue
			}
			v.Set(key, positional[i])
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RegisterFlags adds the long-form flag equivalents of the 8 positional
// arguments, so either calling convention works.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.Int("http_port", 8080, "HTTP listener port")
	flags.Int("https_port", 8443, "HTTPS listener port")
	flags.String("log_file_name", "", "path to the server log file")
	flags.String("lock_file", "", "path to the daemon lock file")
	flags.String("www_folder", "./www", "static document root")
	flags.String("cgi_path", "", "path to the CGI executable")
	flags.String("private_key_file", "", "PEM private key for the HTTPS listener")
	flags.String("certificate_file", "", "PEM certificate chain for the HTTPS listener")
}
