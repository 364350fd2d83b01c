package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"path/filepath"
	"strconv"
	"text/template"
	"time"

	cmtos "github.com/cometbft/cometbft/libs/os"
)

// DefaultDirPerm is the default permissions used when creating directories.
const DefaultDirPerm = 0o700

var configTemplate = template.Must(template.New("config.toml").Funcs(template.FuncMap{
	// quote renders a TOML basic string, escaping whatever an operator typed.
	"quote": strconv.Quote,
	// duration renders a time.Duration the way viper parses it back.
	"duration": func(d time.Duration) string { return strconv.Quote(d.String()) },
	"maxPageLimit": func() int { return MaxPageLimit },
}).Parse(defaultConfigTemplate))

// WriteConfigFile renders cfg as the annotated config.toml at path.
func WriteConfigFile(path string, cfg *Config) error {
	var buffer bytes.Buffer
	if err := configTemplate.Execute(&buffer, cfg); err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	if err := cmtos.EnsureDir(filepath.Dir(path), DefaultDirPerm); err != nil {
		return err
	}
	return cmtos.WriteFile(path, buffer.Bytes(), 0o644)
}

//go:embed config.toml.tpl
var defaultConfigTemplate string
