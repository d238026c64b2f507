package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/nexus-edge/protolink-panel/internal/domain"
	"gopkg.in/yaml.v3"
)

// RegisterMapFile is the YAML document produced by `panel map`.
type RegisterMapFile struct {
	Version   string           `yaml:"version"`
	Device    MapDevice        `yaml:"device"`
	Registers []RegisterConfig `yaml:"registers"`
}

// MapDevice describes how the map is addressed.
type MapDevice struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	UnitID    int    `yaml:"unit_id"`
	WordOrder string `yaml:"word_order"`
}

// RegisterConfig is one register map row in YAML.
type RegisterConfig struct {
	Signal   string `yaml:"signal"`
	Region   string `yaml:"region"`
	Address  uint16 `yaml:"address"`
	Count    uint16 `yaml:"count"`
	Encoding string `yaml:"encoding"`
	// Reference is the 1-based vendor register number, e.g. 30003
	Reference int `yaml:"reference"`
}

// NewRegisterMapFile renders m for the configured device.
func NewRegisterMapFile(device DeviceConfig, m domain.RegisterMap) RegisterMapFile {
	file := RegisterMapFile{
		Version: "1",
		Device: MapDevice{
			Host:      device.Host,
			Port:      device.Port,
			UnitID:    device.UnitID,
			WordOrder: string(device.WordOrder),
		},
	}
	for _, r := range m.Registers() {
		file.Registers = append(file.Registers, RegisterConfig{
			Signal:    string(r.Signal),
			Region:    string(r.Region),
			Address:   r.Address,
			Count:     r.Count,
			Encoding:  string(r.Encoding),
			Reference: reference(r),
		})
	}
	return file
}

// WriteRegisterMap encodes the map as YAML.
func WriteRegisterMap(w io.Writer, device DeviceConfig, m domain.RegisterMap) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewRegisterMapFile(device, m)); err != nil {
		return fmt.Errorf("failed to encode register map: %w", err)
	}
	return enc.Close()
}

// SaveRegisterMap writes the map to a YAML file.
func SaveRegisterMap(path string, device DeviceConfig, m domain.RegisterMap) error {
	var buf bytes.Buffer
	if err := WriteRegisterMap(&buf, device, m); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write register map file: %w", err)
	}
	return nil
}

// LoadRegisterMapFile reads a map previously written by SaveRegisterMap.
func LoadRegisterMapFile(path string) (*RegisterMapFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read register map file: %w", err)
	}

	var file RegisterMapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse register map file: %w", err)
	}
	return &file, nil
}

// Diff lists rows of file that disagree with m.
func (f *RegisterMapFile) Diff(m domain.RegisterMap) []string {
	var out []string
	seen := make(map[domain.Signal]bool, len(f.Registers))
	for _, rc := range f.Registers {
		signal := domain.Signal(rc.Signal)
		seen[signal] = true
		r, ok := m.Lookup(signal)
		if !ok {
			out = append(out, fmt.Sprintf("%s: not in register map", rc.Signal))
			continue
		}
		if string(r.Region) != rc.Region || r.Address != rc.Address || r.Count != rc.Count || string(r.Encoding) != rc.Encoding {
			out = append(out, fmt.Sprintf("%s: file has %s/%d/%d/%s, map has %s/%d/%d/%s",
				rc.Signal, rc.Region, rc.Address, rc.Count, rc.Encoding,
				r.Region, r.Address, r.Count, r.Encoding))
		}
	}
	for _, signal := range m.Signals() {
		if !seen[signal] {
			out = append(out, fmt.Sprintf("%s: missing from file", signal))
		}
	}
	return out
}

// reference converts a 0-based offset to the conventional 1-based number.
func reference(r domain.Register) int {
	base := 0
	switch r.Region {
	case domain.RegionDiscreteInput:
		base = 10000
	case domain.RegionInputRegister:
		base = 30000
	}
	return base + int(r.Address) + 1
}
