package behavior

import (
	"bufio"
	"bytes"
	"fmt"
	"math/rand/v2"
	"os"
	"regexp"
	"strings"
	"sync"
	"text/template"

	"github.com/google/uuid"
)

// TemplateEngine compiles request templates for http behaviors and caches
// the files read by randomLine.
//
// Templates see the short variables {{userID}}, {{uuid}}, {{requestID}},
// {{vu}} and {{iteration}}, and the helpers randomInt, randomChoice,
// randomUUID (alias uuid) and randomLine. Helpers draw from the virtual
// user's random source, so a seeded run renders the same values.
type TemplateEngine struct {
	mu    sync.RWMutex
	files map[string][]string
}

func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{files: make(map[string][]string)}
}

// TemplateData is the root value a template executes against.
type TemplateData struct {
	UserID    string
	UUID      string
	VU        int
	Iteration uint64

	rng    *rand.Rand
	engine *TemplateEngine
}

func (e *TemplateEngine) data(env *Env) TemplateData {
	d := TemplateData{
		UserID:    env.UserID,
		VU:        env.VU,
		Iteration: env.Iteration,
		rng:       env.Rand,
		engine:    e,
	}
	d.UUID = d.RandomUUID()
	return d
}

var (
	shortVars = strings.NewReplacer(
		"{{userID}}", "{{.UserID}}",
		"{{uuid}}", "{{.UUID}}",
		"{{requestID}}", "{{.UUID}}",
		"{{vu}}", "{{.VU}}",
		"{{iteration}}", "{{.Iteration}}",
	)
	action  = regexp.MustCompile(`\{\{.*?\}\}`)
	helpers = regexp.MustCompile(`(^|[\s(|{])(randomInt|randomChoice|randomUUID|randomLine|uuid)\b`)
	methods = map[string]string{
		"randomInt":    "RandomInt",
		"randomChoice": "RandomChoice",
		"randomUUID":   "RandomUUID",
		"uuid":         "RandomUUID",
		"randomLine":   "RandomLine",
	}
)

// Preprocess rewrites short variables into field access and helper calls
// into method calls on the root value, e.g. {{randomInt 1 5}} becomes
// {{$.RandomInt 1 5}}. Text outside actions is left alone.
func (e *TemplateEngine) Preprocess(input string) string {
	input = shortVars.Replace(input)
	return action.ReplaceAllStringFunc(input, func(a string) string {
		return helpers.ReplaceAllStringFunc(a, func(m string) string {
			sub := helpers.FindStringSubmatch(m)
			return sub[1] + "$." + methods[sub[2]]
		})
	})
}

func (e *TemplateEngine) Parse(name, text string) (*template.Template, error) {
	return template.New(name).Option("missingkey=error").Parse(e.Preprocess(text))
}

func (e *TemplateEngine) Execute(t *template.Template, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (d TemplateData) intN(n int) int {
	if d.rng == nil {
		return rand.IntN(n)
	}
	return d.rng.IntN(n)
}

// RandomInt returns a value in [lo, hi).
func (d TemplateData) RandomInt(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + d.intN(hi-lo)
}

func (d TemplateData) RandomChoice(choices ...string) string {
	if len(choices) == 0 {
		return ""
	}
	return choices[d.intN(len(choices))]
}

func (d TemplateData) RandomUUID() string {
	if d.rng == nil {
		return uuid.NewString()
	}
	id, err := uuid.NewRandomFromReader(rngReader{d.rng})
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (d TemplateData) RandomLine(filename string) (string, error) {
	e := d.engine
	if e == nil {
		e = NewTemplateEngine()
	}
	lines, err := e.lines(filename)
	if err != nil || len(lines) == 0 {
		return "", err
	}
	return lines[d.intN(len(lines))], nil
}

// rngReader adapts a seeded source to io.Reader for uuid generation.
type rngReader struct{ r *rand.Rand }

func (r rngReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r.r.Uint32())
	}
	return len(p), nil
}

// lines loads filename once and caches its non-blank lines.
func (e *TemplateEngine) lines(filename string) ([]string, error) {
	e.mu.RLock()
	lines, ok := e.files[filename]
	e.mu.RUnlock()
	if ok {
		return lines, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if lines, ok = e.files[filename]; ok {
		return lines, nil
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read template file %q: %w", filename, err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	e.files[filename] = lines
	return lines, nil
}
