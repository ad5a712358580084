package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"git.home.luguber.info/inful/clashchain/internal/document"
	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
)

// DefaultScriptTimeout bounds a script unit when no timeout is configured.
const DefaultScriptTimeout = 5 * time.Second

// EntryPoint is the function a script must define.
const EntryPoint = "Main"

// logPackage is the import path scripts use to emit log entries.
const logPackage = "chain"

// callPackage carries the input into the interpreter and the result back out.
// It is not on the allow-list, so scripts cannot import it themselves.
const callPackage = "clashchaincall"

// DefaultAllowedPackages are the standard packages exposed to scripts. Anything
// touching the filesystem, network, processes or unsafe memory is left out.
var DefaultAllowedPackages = []string{
	"bytes",
	"encoding/base64",
	"encoding/json",
	"fmt",
	"math",
	"net/url",
	"path",
	"regexp",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
	"unicode/utf8",
}

// ScriptFunc is the Go signature of a script's entry point.
type ScriptFunc = func(map[string]interface{}) (map[string]interface{}, error)

// ScriptOptions configures script execution.
type ScriptOptions struct {
	Timeout         time.Duration
	AllowedPackages []string
}

// Script rewrites the document with an interpreted Go program.
//
// The program is a package main (the clause may be omitted) defining
//
//	func Main(config map[string]interface{}) (map[string]interface{}, error)
//
// and may import "chain" to call chain.Info, chain.Warn and chain.Error. Output
// written with fmt.Print* is captured as info entries.
type Script struct {
	name    string
	source  string
	timeout time.Duration
	allowed map[string]bool
}

// NewScript creates a script unit. Compilation happens per Apply, so a broken
// script surfaces as a failure in that unit's log rather than at load time.
func NewScript(name, source string, opts ScriptOptions) *Script {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	pkgs := opts.AllowedPackages
	if len(pkgs) == 0 {
		pkgs = DefaultAllowedPackages
	}
	allowed := make(map[string]bool, len(pkgs))
	for _, p := range pkgs {
		allowed[p] = true
	}
	return &Script{name: name, source: source, timeout: timeout, allowed: allowed}
}

func (s *Script) Name() string           { return s.name }
func (s *Script) Kind() Kind             { return KindScript }
func (s *Script) Timeout() time.Duration { return s.timeout }
func (s *Script) Source() string         { return s.source }

type scriptResult struct {
	out map[string]interface{}
	err error
}

// Apply runs the script against doc. Every failure mode (bad imports, compile
// errors, a returned error, a panic, the time bound, an invalid result) is
// returned as an error and leaves doc untouched.
func (s *Script) Apply(ctx context.Context, doc *document.Document, rec *Recorder) (*document.Document, error) {
	src := wrapSource(s.source)
	if err := s.validateImports(src); err != nil {
		return nil, err
	}

	input, err := doc.ToMap()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stdout := &lineWriter{emit: rec.Info}
	stderr := &lineWriter{emit: rec.Warn}
	defer stdout.Flush()
	defer stderr.Flush()

	i, err := s.compile(ctx, src, rec, stdout, stderr)
	if err != nil {
		return nil, err
	}
	res, err := s.call(ctx, i, input)
	if err != nil {
		return nil, err
	}
	if res.err != nil {
		return nil, s.fail("script returned an error", res.err)
	}
	if res.out == nil {
		return nil, ferrors.ScriptError("script returned a nil document").WithContext("unit", s.name).Build()
	}

	out, err := document.FromMap(res.out, doc)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryScript, "script returned an invalid document").
			WithContext("unit", s.name).
			Build()
	}
	return out, nil
}

// compile evaluates the program in a fresh interpreter and checks that Main
// has the expected signature. Each call gets its own interpreter so scripts
// cannot share state.
func (s *Script) compile(ctx context.Context, src string, rec *Recorder, stdout, stderr *lineWriter) (*interp.Interpreter, error) {
	i := interp.New(interp.Options{Stdout: stdout, Stderr: stderr})
	if err := i.Use(s.symbols(rec)); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "failed to load script symbols").Build()
	}
	if _, err := i.EvalWithContext(ctx, src); err != nil {
		if ctx.Err() != nil {
			return nil, s.timedOut(ctx)
		}
		return nil, s.fail("script evaluation failed", err)
	}
	v, err := i.Eval("main." + EntryPoint)
	if err != nil {
		return nil, s.fail("script does not define "+EntryPoint, err)
	}
	if _, ok := v.Interface().(ScriptFunc); !ok {
		return nil, ferrors.ScriptError("script entry point has the wrong signature").
			WithContext("unit", s.name).
			WithContext("expected", "func Main(map[string]interface{}) (map[string]interface{}, error)").
			Build()
	}
	return i, nil
}

// call invokes Main inside the interpreter. Running the call through
// EvalWithContext lets the interpreter stop the script when ctx ends, so a
// script that never returns does not outlive its time bound.
func (s *Script) call(ctx context.Context, i *interp.Interpreter, input map[string]interface{}) (*scriptResult, error) {
	res := &scriptResult{}
	ret := func(out map[string]interface{}, err error) { res.out, res.err = out, err }
	bridge := interp.Exports{
		callPackage + "/" + callPackage: map[string]reflect.Value{
			"Input":  reflect.ValueOf(func() map[string]interface{} { return input }),
			"Return": reflect.ValueOf(ret),
		},
	}
	if err := i.Use(bridge); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "failed to load script symbols").Build()
	}
	if _, err := i.Eval(`import "` + callPackage + `"`); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "failed to prepare script call").Build()
	}

	expr := fmt.Sprintf("%s.Return(main.%s(%s.Input()))", callPackage, EntryPoint, callPackage)
	if _, err := i.EvalWithContext(ctx, expr); err != nil {
		if ctx.Err() != nil {
			return nil, s.timedOut(ctx)
		}
		var p interp.Panic
		if errors.As(err, &p) {
			return nil, s.fail("script panicked", fmt.Errorf("%v", p.Value))
		}
		return nil, s.fail("script call failed", err)
	}
	return res, nil
}

func (s *Script) timedOut(ctx context.Context) error {
	return ferrors.WrapError(ctx.Err(), ferrors.CategoryScript, "script exceeded its time bound").
		WithContext("unit", s.name).
		WithContext("timeout", s.timeout.String()).
		Build()
}

// symbols returns the allow-listed stdlib exports plus the per-run log package.
func (s *Script) symbols(rec *Recorder) interp.Exports {
	exports := make(interp.Exports, len(s.allowed)+1)
	for key, syms := range stdlib.Symbols {
		if s.allowed[importPathOf(key)] {
			exports[key] = syms
		}
	}
	exports[logPackage+"/"+logPackage] = map[string]reflect.Value{
		"Info":  reflect.ValueOf(func(format string, args ...interface{}) { rec.Info(format, args...) }),
		"Warn":  reflect.ValueOf(func(format string, args ...interface{}) { rec.Warn(format, args...) }),
		"Error": reflect.ValueOf(func(format string, args ...interface{}) { rec.Error(format, args...) }),
	}
	return exports
}

// validateImports rejects imports outside the allow-list before anything runs.
func (s *Script) validateImports(src string) error {
	f, err := parser.ParseFile(token.NewFileSet(), s.name+".go", src, parser.ImportsOnly)
	if err != nil {
		return s.fail("script does not parse", err)
	}
	var forbidden []string
	for _, imp := range f.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return s.fail("script import is malformed", err)
		}
		if path != logPackage && !s.allowed[path] {
			forbidden = append(forbidden, path)
		}
	}
	if len(forbidden) > 0 {
		sort.Strings(forbidden)
		return ferrors.ScriptError("script imports forbidden packages").
			WithContext("unit", s.name).
			WithContext("imports", strings.Join(forbidden, ",")).
			Build()
	}
	return nil
}

func (s *Script) fail(message string, cause error) error {
	return ferrors.WrapError(cause, ferrors.CategoryScript, message).WithContext("unit", s.name).Build()
}

// wrapSource adds a package clause when the script omits one.
func wrapSource(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") {
			continue
		}
		if strings.HasPrefix(trimmed, "package ") {
			return src
		}
		break
	}
	return "package main\n\n" + src
}

// importPathOf turns a stdlib.Symbols key ("encoding/json/json") into its import path.
func importPathOf(key string) string {
	if i := strings.LastIndex(key, "/"); i > 0 {
		return key[:i]
	}
	return key
}

// lineWriter turns interpreter output into one log entry per line.
type lineWriter struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	emit func(format string, args ...any)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Partial line: keep it for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			return len(p), nil
		}
		w.emit("%s", strings.TrimRight(line, "\r\n"))
	}
}

// Flush emits a trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit("%s", w.buf.String())
		w.buf.Reset()
	}
}
