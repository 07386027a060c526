// Command configgen writes one CLI config per environment by merging the
// overrides of a profile into a base config file.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"shodhcode/internal/cli/config"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Profile struct {
	OutputDir    string                        `yaml:"outputDir"`
	Base         string                        `yaml:"base"`
	Environments map[string]EnvironmentProfile `yaml:"environments"`
}

type EnvironmentProfile struct {
	Output    string                 `yaml:"output"`
	Overrides map[string]interface{} `yaml:"overrides"`
}

func main() {
	profilePath := pflag.String("profile", "configs/dev-profile.yaml", "path to config profile")
	outputDir := pflag.String("output-dir", "", "override output directory")
	pflag.Parse()

	written, err := generate(*profilePath, *outputDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
	for _, path := range written {
		fmt.Println(path)
	}
}

// generate writes every environment of the profile and returns the paths
// written, in environment name order.
func generate(profilePath, outputDir string) ([]string, error) {
	profilePathAbs, err := filepath.Abs(profilePath)
	if err != nil {
		return nil, fmt.Errorf("resolve profile path failed: %w", err)
	}
	profile, err := loadProfile(profilePathAbs)
	if err != nil {
		return nil, err
	}
	profileDir := filepath.Dir(profilePathAbs)

	if outputDir != "" {
		profile.OutputDir = outputDir
	}
	if profile.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	if !filepath.IsAbs(profile.OutputDir) {
		profile.OutputDir = filepath.Join(profileDir, profile.OutputDir)
	}
	if !filepath.IsAbs(profile.Base) {
		profile.Base = filepath.Join(profileDir, profile.Base)
	}

	base, err := loadYAML(profile.Base)
	if err != nil {
		return nil, fmt.Errorf("load base config failed: %w", err)
	}
	base = normalizeValue(base)

	names := make([]string, 0, len(profile.Environments))
	for name := range profile.Environments {
		names = append(names, name)
	}
	sort.Strings(names)

	written := make([]string, 0, len(names))
	for _, name := range names {
		env := profile.Environments[name]
		merged := base
		if len(env.Overrides) > 0 {
			merged, err = mergeMap(base, normalizeValue(env.Overrides))
			if err != nil {
				return written, fmt.Errorf("merge overrides for %q failed: %w", name, err)
			}
		}

		outputPath := resolveOutputPath(profile.OutputDir, name, env)
		if err := writeYAML(outputPath, merged); err != nil {
			return written, fmt.Errorf("write config for %q failed: %w", name, err)
		}
		if _, err := config.Load(outputPath); err != nil {
			return written, fmt.Errorf("config for %q is invalid: %w", name, err)
		}
		written = append(written, outputPath)
	}
	return written, nil
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile failed: %w", err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile failed: %w", err)
	}
	if profile.Base == "" {
		return nil, errors.New("profile has no base config")
	}
	if len(profile.Environments) == 0 {
		return nil, errors.New("profile has no environments")
	}
	return &profile, nil
}

func loadYAML(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read yaml failed: %w", err)
	}

	var value interface{}
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("parse yaml failed: %w", err)
	}
	if value == nil {
		value = map[string]interface{}{}
	}
	return value, nil
}

func writeYAML(path string, value interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir failed: %w", err)
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal yaml failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write yaml failed: %w", err)
	}
	return nil
}

// resolveOutputPath defaults to cli.<env>.yaml inside outputDir.
func resolveOutputPath(outputDir, name string, env EnvironmentProfile) string {
	output := env.Output
	if output == "" {
		output = fmt.Sprintf("cli.%s.yaml", name)
	}
	if filepath.IsAbs(output) {
		return output
	}
	return filepath.Join(outputDir, output)
}

func normalizeValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = normalizeValue(v)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, normalizeValue(item))
		}
		return out
	default:
		return value
	}
}

// mergeMap overlays override onto base. Nested maps merge key by key;
// anything else is replaced.
func mergeMap(base interface{}, override interface{}) (interface{}, error) {
	baseMap, ok := base.(map[string]interface{})
	if !ok {
		return nil, errors.New("base config is not a map")
	}
	overrideMap, ok := override.(map[string]interface{})
	if !ok {
		return nil, errors.New("override config is not a map")
	}

	merged := make(map[string]interface{}, len(baseMap))
	for k, v := range baseMap {
		merged[k] = v
	}
	for key, overrideValue := range overrideMap {
		baseChild, baseIsMap := merged[key].(map[string]interface{})
		overrideChild, overrideIsMap := overrideValue.(map[string]interface{})
		if baseIsMap && overrideIsMap {
			combined, err := mergeMap(baseChild, overrideChild)
			if err != nil {
				return nil, err
			}
			merged[key] = combined
			continue
		}
		merged[key] = overrideValue
	}
	return merged, nil
}
