// Package registry maps language identifiers to the execution environment
// used to run them: container image, source file suffix and launch command.
//
// A Registry is built once at startup and is read-only afterwards, so it is
// safe to share between concurrent executions without locking.
package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/isdmx/codeviz/config"
)

// ErrUnsupportedLanguage is returned by Resolve for unknown identifiers
var ErrUnsupportedLanguage = errors.New("unsupported language")

// FilePlaceholder is replaced by the in-sandbox source path in Command
const FilePlaceholder = "{file}"

// LanguageDescriptor describes how to run one language
type LanguageDescriptor struct {
	ID          string
	Image       string
	FileSuffix  string
	FileName    string
	Command     []string
	Environment map[string]string
	PrefixCode  string
	PostfixCode string
}

// SourceFile returns the name of the file the submitted code is written to
func (d LanguageDescriptor) SourceFile() string {
	if d.FileName != "" {
		return d.FileName
	}
	return "main" + d.FileSuffix
}

// LaunchCommand expands the command template against the source path.
// The returned slice is a fresh copy.
func (d LanguageDescriptor) LaunchCommand(sourcePath string) []string {
	cmd := make([]string, len(d.Command))
	for i, arg := range d.Command {
		cmd[i] = strings.ReplaceAll(arg, FilePlaceholder, sourcePath)
	}
	return cmd
}

// ApplyHooks wraps code with the configured prefix and postfix snippets
func (d LanguageDescriptor) ApplyHooks(code string) string {
	return d.PrefixCode + code + d.PostfixCode
}

func (d LanguageDescriptor) validate() error {
	if d.ID == "" {
		return errors.New("language id must not be empty")
	}
	if d.Image == "" {
		return fmt.Errorf("language %s: image must not be empty", d.ID)
	}
	if !strings.HasPrefix(d.FileSuffix, ".") {
		return fmt.Errorf("language %s: file suffix must start with '.', got: %q", d.ID, d.FileSuffix)
	}
	if len(d.Command) == 0 {
		return fmt.Errorf("language %s: command must not be empty", d.ID)
	}
	for _, arg := range d.Command {
		if strings.Contains(arg, FilePlaceholder) {
			return nil
		}
	}
	return fmt.Errorf("language %s: command must reference %s", d.ID, FilePlaceholder)
}

// Registry is an immutable lookup table of language descriptors
type Registry struct {
	languages map[string]LanguageDescriptor
	ids       []string
}

// New builds a registry from the given descriptors. Later descriptors with
// the same ID replace earlier ones.
func New(descriptors ...LanguageDescriptor) (*Registry, error) {
	r := &Registry{
		languages: make(map[string]LanguageDescriptor, len(descriptors)),
	}

	for _, d := range descriptors {
		if err := d.validate(); err != nil {
			return nil, err
		}
		r.languages[d.ID] = d
	}

	r.ids = make([]string, 0, len(r.languages))
	for id := range r.languages {
		r.ids = append(r.ids, id)
	}
	sort.Strings(r.ids)

	return r, nil
}

// NewFromConfig builds the registry from the built-in defaults, the optional
// profiles file and the languages section of the configuration, in that order.
func NewFromConfig(cfg *config.Config) (*Registry, error) {
	merged := make(map[string]LanguageDescriptor)
	for _, d := range Defaults() {
		merged[d.ID] = d
	}

	if cfg.Sandbox.ProfilesFile != "" {
		overrides, err := LoadFile(cfg.Sandbox.ProfilesFile)
		if err != nil {
			return nil, err
		}
		for id, lang := range overrides {
			merged[id] = merge(merged[id], id, lang, false)
		}
	}

	for id, lang := range cfg.Languages {
		// viper lowercases map keys, environment names are restored to upper case
		merged[id] = merge(merged[id], id, lang, true)
	}

	descriptors := make([]LanguageDescriptor, 0, len(merged))
	for _, d := range merged {
		descriptors = append(descriptors, d)
	}
	return New(descriptors...)
}

// LoadFile reads language overrides from a YAML document keyed by language id
func LoadFile(path string) (map[string]config.Language, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	var doc struct {
		Languages map[string]config.Language `yaml:"languages"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file %s: %w", path, err)
	}
	return doc.Languages, nil
}

func merge(base LanguageDescriptor, id string, lang config.Language, upperEnv bool) LanguageDescriptor {
	base.ID = id
	if lang.Image != "" {
		base.Image = lang.Image
	}
	if lang.FileSuffix != "" {
		base.FileSuffix = lang.FileSuffix
	}
	if lang.FileName != "" {
		base.FileName = lang.FileName
	}
	if len(lang.Command) > 0 {
		base.Command = append([]string(nil), lang.Command...)
	}
	if lang.PrefixCode != "" {
		base.PrefixCode = lang.PrefixCode
	}
	if lang.PostfixCode != "" {
		base.PostfixCode = lang.PostfixCode
	}
	if len(lang.Environment) > 0 {
		env := make(map[string]string, len(base.Environment)+len(lang.Environment))
		for k, v := range base.Environment {
			env[k] = v
		}
		for k, v := range lang.Environment {
			if upperEnv {
				k = strings.ToUpper(k)
			}
			env[k] = v
		}
		base.Environment = env
	}
	return base
}

// Resolve returns the descriptor registered for id
func (r *Registry) Resolve(id string) (LanguageDescriptor, error) {
	d, ok := r.languages[id]
	if !ok {
		return LanguageDescriptor{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, id)
	}
	return d, nil
}

// ListSupported returns the registered identifiers in lexical order
func (r *Registry) ListSupported() []string {
	return append([]string(nil), r.ids...)
}
