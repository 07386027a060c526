package command

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	pkgerrors "shodhcode/pkg/errors"
)

// FieldType describes input type.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt64
	FieldLanguage
	FieldFile
)

// Field defines a command input field.
type Field struct {
	Name     string
	Aliases  []string
	Prompt   string
	Type     FieldType
	Required bool
}

// Command defines one REPL command.
type Command struct {
	Name    string
	Aliases []string
	Usage   string
	Summary string
	Fields  []Field
}

// Params holds parsed input params.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

func (p Params) Canonicalize(fields []Field) {
	for _, field := range fields {
		for _, alias := range field.Aliases {
			aliasKey := strings.ToLower(alias)
			if value, ok := p[aliasKey]; ok {
				p[strings.ToLower(field.Name)] = value
				delete(p, aliasKey)
			}
		}
	}
}

// Missing returns required fields that have no value yet.
func (c Command) Missing(params Params) []Field {
	var missing []Field
	for _, field := range c.Fields {
		if field.Required && strings.TrimSpace(params.Get(field.Name)) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

// Check validates the type of every provided field.
func (c Command) Check(params Params) error {
	for _, field := range c.Fields {
		value := params.Get(field.Name)
		if value == "" {
			continue
		}
		switch field.Type {
		case FieldInt64:
			n, err := ParseInt64(value)
			if err != nil || n <= 0 {
				return pkgerrors.ValidationError(field.Name, "must be a positive integer")
			}
		case FieldFile:
			if _, err := os.Stat(value); err != nil {
				return pkgerrors.ValidationError(field.Name, "must name a readable file")
			}
		}
	}
	return nil
}

func ParseInt64(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}
