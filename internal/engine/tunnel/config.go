package tunnel

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// tunnelConfig is the slice of the cloudflared config file the broker
// cares about. Everything else in the file is the operator's business.
type tunnelConfig struct {
	Tunnel   string `yaml:"tunnel"`
	Hostname string `yaml:"hostname"`
	Ingress  []struct {
		Hostname string `yaml:"hostname"`
	} `yaml:"ingress"`
}

// ReadConfigHostname extracts the public hostname from a cloudflared
// config file: a top-level hostname wins, otherwise the first ingress
// rule that names one.
func ReadConfigHostname(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var cfg tunnelConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return "", fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.Hostname != "" {
		return cfg.Hostname, nil
	}
	for _, rule := range cfg.Ingress {
		if rule.Hostname != "" {
			return rule.Hostname, nil
		}
	}
	return "", fmt.Errorf("no hostname in %s", path)
}
