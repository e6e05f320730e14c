package behavior

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"text/template"

	"stagehand/internal/stats"
)

// Step is one templated call of an HTTP behavior.
type Step struct {
	Name    string
	Method  string
	Path    string
	Headers map[string]string
	Body    string
}

type compiledStep struct {
	name    string
	method  string
	path    *template.Template
	headers map[string]*template.Template
	body    *template.Template
}

// HTTP runs a fixed sequence of templated requests, stopping at the first
// call that does not succeed.
type HTTP struct {
	base
	engine *TemplateEngine
	steps  []compiledStep
}

func NewHTTP(name string, weight float64, engine *TemplateEngine, steps []Step) (*HTTP, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("behavior %q: at least one step is required", name)
	}
	if engine == nil {
		engine = NewTemplateEngine()
	}
	h := &HTTP{base: base{name, weight}, engine: engine}
	for i, s := range steps {
		cs, err := compileStep(engine, name, i, s)
		if err != nil {
			return nil, err
		}
		h.steps = append(h.steps, cs)
	}
	return h, nil
}

func compileStep(e *TemplateEngine, behavior string, i int, s Step) (compiledStep, error) {
	method := strings.ToUpper(strings.TrimSpace(s.Method))
	if method == "" {
		method = http.MethodGet
	}
	if s.Path == "" {
		return compiledStep{}, fmt.Errorf("behavior %q step %d: path is required", behavior, i)
	}
	name := s.Name
	if name == "" {
		name = fmt.Sprintf("%s_%d", behavior, i)
	}
	id := fmt.Sprintf("%s/%d", behavior, i)

	cs := compiledStep{name: name, method: method, headers: map[string]*template.Template{}}
	var err error
	if cs.path, err = e.Parse(id+"/path", s.Path); err != nil {
		return compiledStep{}, fmt.Errorf("behavior %q step %d path: %w", behavior, i, err)
	}
	if cs.body, err = e.Parse(id+"/body", s.Body); err != nil {
		return compiledStep{}, fmt.Errorf("behavior %q step %d body: %w", behavior, i, err)
	}
	for k, v := range s.Headers {
		t, err := e.Parse(id+"/header/"+k, v)
		if err != nil {
			return compiledStep{}, fmt.Errorf("behavior %q step %d header %s: %w", behavior, i, k, err)
		}
		cs.headers[k] = t
	}
	return cs, nil
}

func (h *HTTP) render(s compiledStep, data TemplateData) (Request, error) {
	path, err := h.engine.Execute(s.path, data)
	if err != nil {
		return Request{}, err
	}
	body, err := h.engine.Execute(s.body, data)
	if err != nil {
		return Request{}, err
	}
	req := Request{Name: s.name, Method: s.method, Path: path, Header: http.Header{}}
	if body != "" {
		req.Body = []byte(body)
	}
	for k, t := range s.headers {
		v, err := h.engine.Execute(t, data)
		if err != nil {
			return Request{}, err
		}
		req.Header.Set(k, v)
	}
	return req, nil
}

// Execute renders every step, then runs them as one Sequence. A step that
// fails to render fails the iteration before anything is sent.
func (h *HTTP) Execute(ctx context.Context, env *Env) Result {
	data := h.engine.data(env)
	reqs := make([]Request, 0, len(h.steps))
	for _, s := range h.steps {
		req, err := h.render(s, data)
		if err != nil {
			return Result{Status: stats.Failure, Err: errors.Join(fmt.Errorf("render %s", s.name), err)}
		}
		reqs = append(reqs, req)
	}
	return Sequence(ctx, env, h.name, reqs...)
}
