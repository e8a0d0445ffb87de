package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

const (
	varsKey            = "vars"
	noValuePlaceholder = "<no value>"
	maxVarPasses       = 10
)

// Process expands Go templates in raw YAML and strips the vars: section.
//
//   - vars: defines template variables, which may reference each other
//   - {{ .VAR }} and [[ .VAR ]] are both accepted
//   - functions: default, env, required
//   - env wins over vars:
//
// It returns the processed YAML and the resolved vars.
func Process(data []byte, env map[string]string) ([]byte, map[string]string, error) {
	if env == nil {
		env = environMap()
	}

	vars, err := resolveVars(data, env)
	if err != nil {
		return nil, nil, err
	}

	td := templateData(vars, env)
	out := data
	for _, delims := range [][2]string{{"[[", "]]"}, {"{{", "}}"}} {
		out, err = execute(out, td, delims[0], delims[1], env)
		if err != nil {
			return nil, nil, fmt.Errorf("template error (using %s %s): %w", delims[0], delims[1], err)
		}
	}

	if bytes.Contains(out, []byte(noValuePlaceholder)) {
		return nil, nil, undefinedVarError(data, out)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(out, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse yaml: %w", err)
	}
	if _, ok := doc[varsKey]; ok {
		delete(doc, varsKey)
		if out, err = yaml.Marshal(doc); err != nil {
			return nil, nil, err
		}
	}
	return out, vars, nil
}

// resolveVars evaluates the vars: section. Each pass resolves the vars whose
// dependencies are already known; a pass without progress ends the loop.
func resolveVars(data []byte, env map[string]string) (map[string]string, error) {
	var raw struct {
		Vars map[string]any `yaml:"vars"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	pending := make(map[string]string, len(raw.Vars))
	for k, v := range raw.Vars {
		pending[k] = fmt.Sprintf("%v", v)
	}
	resolved := make(map[string]string, len(pending))

	for pass := 0; pass < maxVarPasses && len(pending) > 0; pass++ {
		progress := false
		td := templateData(resolved, env)
		for k, expr := range pending {
			val, err := expand(expr, td, env)
			if err != nil || hasTemplate(val) || strings.Contains(val, noValuePlaceholder) {
				continue
			}
			resolved[k] = val
			delete(pending, k)
			progress = true
		}
		if !progress {
			break
		}
	}

	if len(pending) > 0 {
		keys := make([]string, 0, len(pending))
		for k := range pending {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		k := keys[0]
		if _, err := expand(pending[k], templateData(resolved, env), env); err != nil {
			return nil, fmt.Errorf("var %q: %w", k, err)
		}
		return nil, fmt.Errorf("var %q could not be resolved (circular dependency?)", k)
	}
	return resolved, nil
}

func expand(expr string, td map[string]any, env map[string]string) (string, error) {
	out := []byte(expr)
	var err error
	if strings.Contains(expr, "[[") {
		if out, err = execute(out, td, "[[", "]]", env); err != nil {
			return "", err
		}
	}
	if bytes.Contains(out, []byte("{{")) {
		if out, err = execute(out, td, "{{", "}}", env); err != nil {
			return "", err
		}
	}
	return string(out), nil
}

func execute(data []byte, td map[string]any, left, right string, env map[string]string) ([]byte, error) {
	tmpl, err := template.New("config").
		Delims(left, right).
		Option("missingkey=zero").
		Funcs(funcs(env)).
		Parse(string(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, td); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func funcs(env map[string]string) template.FuncMap {
	return template.FuncMap{
		"default": func(def, val any) any {
			if val == nil {
				return def
			}
			if s, ok := val.(string); ok && s == "" {
				return def
			}
			return val
		},
		"env": func(name string) string {
			return env[name]
		},
		"required": func(msg string, val any) (any, error) {
			if val == nil {
				return nil, fmt.Errorf("%s", msg)
			}
			if s, ok := val.(string); ok && s == "" {
				return nil, fmt.Errorf("%s", msg)
			}
			return val, nil
		},
	}
}

// templateData merges vars and env, env winning.
func templateData(vars, env map[string]string) map[string]any {
	td := make(map[string]any, len(vars)+len(env))
	for k, v := range vars {
		td[k] = v
	}
	for k, v := range env {
		td[k] = v
	}
	return td
}

func hasTemplate(s string) bool {
	return strings.Contains(s, "{{") || strings.Contains(s, "[[")
}

func undefinedVarError(original, processed []byte) error {
	origLines := bytes.Split(original, []byte("\n"))
	var problems []string
	for i, line := range bytes.Split(processed, []byte("\n")) {
		if !bytes.Contains(line, []byte(noValuePlaceholder)) {
			continue
		}
		src := ""
		if i < len(origLines) {
			src = strings.TrimSpace(string(origLines[i]))
		}
		problems = append(problems, fmt.Sprintf("  line %d: %s", i+1, src))
	}
	return fmt.Errorf("undefined variable in config. Use 'default' function or define the variable.\nProblem lines:\n%s", strings.Join(problems, "\n"))
}

// environMap converts os.Environ() to a map.
func environMap() map[string]string {
	env := make(map[string]string)
	for _, e := range os.Environ() {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}
	return env
}
