package corpus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/quire/internal/paths"
)

// Project configuration keys in quire.yaml.
const (
	keyProject = "project"
	keySources = "sources"
	keyExclude = "exclude"
	keyWorkers = "workers"
	keyDataDir = "data_dir"
)

// Project is the per-corpus configuration read from quire.yaml.
type Project struct {
	// Name is the identifier project segment. Empty accepts any project.
	Name string

	// Sources are doublestar patterns, relative to the root, selecting the
	// files scanned for traceability tags.
	Sources []string

	// Exclude removes matches of Sources.
	Exclude []string

	// Workers bounds concurrent file scanning.
	Workers int

	// DataDir is the configured ledger directory, possibly relative.
	DataDir string
}

func defaultWorkers() int {
	return max(1, runtime.NumCPU())
}

// LoadProject reads quire.yaml from root. A missing file yields the
// defaults.
func LoadProject(root string) (Project, error) {
	v := viper.New()
	v.SetDefault(keySources, []string{"**/*"})
	v.SetDefault(keyExclude, []string{".git/**", paths.DataDirName + "/**", paths.FeaturesDirName + "/**"})
	v.SetDefault(keyWorkers, defaultWorkers())
	v.SetConfigFile(filepath.Join(root, paths.ProjectFileName))
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Project{}, fmt.Errorf("reading %s: %w", paths.ProjectFileName, err)
		}
	}

	p := Project{
		Name:    v.GetString(keyProject),
		Sources: v.GetStringSlice(keySources),
		Exclude: v.GetStringSlice(keyExclude),
		Workers: v.GetInt(keyWorkers),
		DataDir: v.GetString(keyDataDir),
	}
	if p.Workers < 1 {
		p.Workers = 1
	}
	return p, nil
}

// projectFile is the on-disk form of quire.yaml written by InitProject.
type projectFile struct {
	Project string   `yaml:"project"`
	Sources []string `yaml:"sources"`
	Exclude []string `yaml:"exclude,omitempty"`
	DataDir string   `yaml:"data_dir,omitempty"`
}

// InitProject creates quire.yaml and the features directory under root.
// An existing quire.yaml is kept. It reports whether the file was written.
func InitProject(root, name string) (bool, error) {
	if err := os.MkdirAll(filepath.Join(root, paths.FeaturesDirName), 0o755); err != nil {
		return false, fmt.Errorf("creating %s: %w", paths.FeaturesDirName, err)
	}
	path := filepath.Join(root, paths.ProjectFileName)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}

	data, err := yaml.Marshal(&projectFile{Project: name, Sources: []string{"**/*"}})
	if err != nil {
		return false, fmt.Errorf("marshaling %s: %w", paths.ProjectFileName, err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return false, err
	}
	return true, nil
}
