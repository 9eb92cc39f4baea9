package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/storyloom/narrative-engine/pkg/template"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <template.json>\n", os.Args[0])
		os.Exit(1)
	}

	filename := os.Args[1]
	validator := &TemplateValidator{}

	if err := validator.validateFile(filename); err != nil {
		fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Template file is valid!")
}

type TemplateValidator struct {
	errors []string
}

var validFilenamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var placeholderPattern = regexp.MustCompile(`\{([^}]+)\}`)

// builtinPlaceholders are always resolvable at generation time regardless
// of template content.
var builtinPlaceholders = map[string]bool{
	"current_turn_number":   true,
	"language":              true,
	"base_story_title":      true,
	"last_choices":          true,
	"current_summary":       true,
	"original_tale_context": true,
}

func (v *TemplateValidator) validateFile(filename string) error {
	fmt.Printf("Validating %s...\n", filename)

	baseName := filepath.Base(filename)
	if !strings.HasSuffix(baseName, ".json") {
		return fmt.Errorf("template file must have .json extension: %s", baseName)
	}

	nameWithoutExt := strings.TrimSuffix(baseName, ".json")
	if !validFilenamePattern.MatchString(nameWithoutExt) {
		return fmt.Errorf("template filename '%s' must be lowercase snake_case (e.g., red_riding_hood.json, not Red-Riding-Hood.json)", baseName)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filename, err)
	}

	v.errors = nil

	if !json.Valid(data) {
		return fmt.Errorf("file %s contains invalid JSON", filename)
	}

	var t template.StoryTemplate
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&t); err != nil {
		return fmt.Errorf("file %s failed strict JSON unmarshaling: %w", filename, err)
	}

	if t.ID == "" {
		t.ID = nameWithoutExt
	} else if t.ID != nameWithoutExt {
		v.addError(fmt.Sprintf("template id %q does not match filename %q", t.ID, nameWithoutExt))
	}

	if err := t.Validate(); err != nil {
		v.addError(err.Error())
	}

	v.validatePlaceholders(&t)

	if len(v.errors) > 0 {
		return fmt.Errorf("validation errors in %s:\n%s", filename, strings.Join(v.errors, "\n"))
	}

	return nil
}

// validatePlaceholders warns about placeholders with no built-in or
// initial_elements source. They stay literal until background analysis
// discovers the field, which may be intended.
func (v *TemplateValidator) validatePlaceholders(t *template.StoryTemplate) {
	for _, p := range t.Prompts {
		for _, match := range placeholderPattern.FindAllStringSubmatch(p.SystemPrompt, -1) {
			name := match[1]
			if builtinPlaceholders[name] {
				continue
			}
			if _, ok := t.InitialElements[name]; ok {
				continue
			}
			fmt.Printf("Warning: prompt %q: placeholder {%s} has no built-in or initial_elements source\n", p.ID, name)
		}
	}
}

func (v *TemplateValidator) addError(msg string) {
	v.errors = append(v.errors, msg)
}
