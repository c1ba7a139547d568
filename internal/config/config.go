// Package config loads the linker's ambient configuration: an optional
// richer "aslink.yaml" project file via viper/yaml.v3 (target selection,
// default outputs, area base overrides), and the simple "name=value"
// banking configuration file via the shared objfmt value-map parser (§12).
package config

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/kattkieru/aslink-gb/internal/objfmt"
)

// Project is the optional project-level configuration file's shape.
// Precedence, lowest to highest: Project defaults < ASLINK_* environment
// variables < explicit CLI flags (cobra/pflag own that last step; this
// package only resolves the file+env layers through viper).
type Project struct {
	Target          string           `mapstructure:"target"`
	Outputs         []string         `mapstructure:"outputs"`
	AreaBases       map[string]int64 `mapstructure:"areaBases"`
	GlobalOverrides map[string]int64 `mapstructure:"globalOverrides"`
	Verbose         bool             `mapstructure:"verbose"`
}

// Load reads the project configuration. explicitPath, if non-empty, names
// the file directly; otherwise Load looks for "aslink.yaml" in the current
// directory and returns a zero-value Project (not an error) when none is
// found — the project file is always optional.
func Load(explicitPath string) (*Project, error) {
	v := viper.New()
	v.SetEnvPrefix("ASLINK")
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		v.SetConfigName("aslink")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); explicitPath == "" && notFound {
			return &Project{}, nil
		}
		return nil, fmt.Errorf("loading config: %w", err)
	}

	var p Project
	if err := v.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &p, nil
}

// LoadBankBases reads a banking configuration file: one "AREA=ADDR"
// definition per line, ADDR in hexadecimal without a "0x" prefix (as for the
// "-b" command-line override), used to seed internal/area.Store.Link's per-area base address
// map.
func LoadBankBases(path string) (map[string]uint16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bases := make(map[string]uint16)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		err := objfmt.ParseValueMap(line, 16, func(name string, value int64) {
			bases[name] = uint16(value)
		})
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return bases, nil
}
