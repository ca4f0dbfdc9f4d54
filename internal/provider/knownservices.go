package provider

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed knownservices.yaml
var defaultKnownServices []byte

// KnownService is one curated commonly-safe destination hint folded into the
// advisory prompt so the model can recognize routine traffic.
type KnownService struct {
	Name  string   `yaml:"name"`
	Hosts []string `yaml:"hosts"`
	Note  string   `yaml:"note,omitempty"`
}

type knownServicesFile struct {
	Services []KnownService `yaml:"services"`
}

// LoadKnownServices reads the hint list from path, or the embedded default
// when path is empty.
func LoadKnownServices(path string) ([]KnownService, error) {
	data := defaultKnownServices
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read known services %s: %w", path, err)
		}
	}
	var f knownServicesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse known services: %w", err)
	}
	return f.Services, nil
}

// hintBlock renders the list for prompt embedding.
func hintBlock(services []KnownService) string {
	if len(services) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Commonly safe destinations for reference:\n")
	for _, s := range services {
		b.WriteString("- ")
		b.WriteString(s.Name)
		b.WriteString(": ")
		b.WriteString(strings.Join(s.Hosts, ", "))
		if s.Note != "" {
			b.WriteString(" (")
			b.WriteString(s.Note)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}
