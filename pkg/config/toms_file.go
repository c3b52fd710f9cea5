package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

// TOMsFileName is the configuration file looked up in TOMS_CONFIG_PATH.
const TOMsFileName = "TOMs.conf"

// ErrTOMsFileInvalid marks a TOMs.conf that exists but cannot be used.
var ErrTOMsFileInvalid = errors.New("invalid TOMs configuration file")

// TOMsFile holds the managed layer list and the form template directory.
// FormPath is only checked; the service renders no forms.
type TOMsFile struct {
	Path     string
	Layers   []string
	FormPath string
}

// LoadTOMsFile reads TOMs.conf from dir. The [TOMsLayers] section must list the
// managed layers. form_path is optional but must name a directory when set.
func LoadTOMsFile(dir string) (*TOMsFile, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: config path not set", ErrTOMsFileInvalid)
	}
	path, err := filepath.Abs(filepath.Join(dir, TOMsFileName))
	if err != nil {
		return nil, fmt.Errorf("resolve TOMs config path: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("TOMs configuration file not found at %s: %w", path, err)
	}

	file, err := ini.LoadSources(ini.LoadOptions{AllowPythonMultilineValues: true}, path)
	if err != nil {
		return nil, fmt.Errorf("read TOMs config file: %w", err)
	}
	section, err := file.GetSection("TOMsLayers")
	if err != nil {
		return nil, fmt.Errorf("%w: section TOMsLayers missing", ErrTOMsFileInvalid)
	}

	layers := splitAndTrim(section.Key("layers").String(), "\n,")
	if len(layers) == 0 {
		return nil, fmt.Errorf("%w: no layers listed", ErrTOMsFileInvalid)
	}

	formPath := strings.TrimSpace(os.ExpandEnv(section.Key("form_path").String()))
	if formPath != "" {
		info, err := os.Stat(formPath)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: form path %q was not found", ErrTOMsFileInvalid, formPath)
		}
	}

	return &TOMsFile{Path: path, Layers: layers, FormPath: formPath}, nil
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
