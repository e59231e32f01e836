package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFile is looked up in the workspace root
const ConfigFile = "kboot.yaml"

// Config holds the optional per-workspace settings
type Config struct {
	// Build directory relative to the workspace root
	BuildDir string `yaml:"build_dir"`
	// External command that builds the bootable image
	ImageBuilder string `yaml:"image_builder"`
	QEMU         QEMUConfig   `yaml:"qemu"`
	Viewer       ViewerConfig `yaml:"viewer"`
}

// QEMUConfig configures the container running the VM
type QEMUConfig struct {
	Image   string `yaml:"image"`
	WebPort int    `yaml:"web_port"`
}

// ViewerConfig configures the results viewer container
type ViewerConfig struct {
	Image string        `yaml:"image"`
	Port  int           `yaml:"port"`
	Wait  time.Duration `yaml:"wait"`
}

// DefaultConfig returns the settings used when no config file exists.
func DefaultConfig() Config {
	return Config{
		BuildDir:     ".build",
		ImageBuilder: "kboot-mkimage",
		QEMU: QEMUConfig{
			Image:   "qemux/qemu:7.12",
			WebPort: 8006,
		},
		Viewer: ViewerConfig{
			Image: "philogroves/kview:0.1.1",
			Port:  3000,
			Wait:  5 * time.Second,
		},
	}
}

// LoadConfig reads kboot.yaml from root on top of the defaults. A missing
// file is not an error.
func LoadConfig(root string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read %s: %w", ConfigFile, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", ConfigFile, err)
	}

	if filepath.IsAbs(cfg.BuildDir) || cfg.BuildDir == "" {
		return cfg, fmt.Errorf("%s: build_dir must be a non-empty relative path", ConfigFile)
	}

	return cfg, nil
}
