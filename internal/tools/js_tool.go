package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dop251/goja"
)

const jsToolTimeout = 30 * time.Second

// JSTool runs a user-provided script in a goja sandbox. The script must
// assign a global `tool` object:
//
//	tool = {
//	  name: "word_count",
//	  description: "Count words in text",
//	  parameters: { type: "object", properties: { text: { type: "string" } }, required: ["text"] },
//	  run: function(args) { return String(args.text.split(/\s+/).length); }
//	};
//
// Each call runs in a fresh runtime; scripts have no filesystem, network
// or process access.
type JSTool struct {
	path        string
	source      string
	name        string
	description string
	parameters  map[string]interface{}
}

// LoadJSTools scans dir for *.js files and returns one JSTool per valid
// script. Invalid scripts are logged and skipped.
func LoadJSTools(dir string) []*JSTool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []*JSTool
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".js") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		t, err := loadJSTool(path)
		if err != nil {
			slog.Warn("custom_tools: skipping script", "file", e.Name(), "error", err)
			continue
		}
		out = append(out, t)
	}
	return out
}

func loadJSTool(path string) (*JSTool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	source := string(data)

	// Evaluate once at load to read the metadata.
	vm := goja.New()
	if _, err := vm.RunString(source); err != nil {
		return nil, fmt.Errorf("script error: %w", err)
	}
	toolVal := vm.Get("tool")
	if toolVal == nil || goja.IsUndefined(toolVal) || goja.IsNull(toolVal) {
		return nil, fmt.Errorf("script does not define a global `tool` object")
	}
	obj := toolVal.ToObject(vm)

	name, _ := obj.Get("name").Export().(string)
	if name == "" {
		return nil, fmt.Errorf("tool.name is required")
	}
	description, _ := obj.Get("description").Export().(string)
	if run := obj.Get("run"); run == nil || goja.IsUndefined(run) {
		return nil, fmt.Errorf("tool.run is required")
	}

	parameters, _ := obj.Get("parameters").Export().(map[string]interface{})
	if parameters == nil {
		parameters = map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}

	return &JSTool{
		path:        path,
		source:      source,
		name:        name,
		description: description,
		parameters:  parameters,
	}, nil
}

func (t *JSTool) Name() string { return t.name }

func (t *JSTool) Description() string {
	if t.description != "" {
		return t.description
	}
	return "Custom tool from " + filepath.Base(t.path)
}

func (t *JSTool) Parameters() map[string]interface{} { return t.parameters }

func (t *JSTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	vm := goja.New()

	var logs []string
	console := vm.NewObject()
	console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		logs = append(logs, strings.Join(parts, " "))
		return goja.Undefined()
	})
	vm.Set("console", console)

	runCtx, cancel := context.WithTimeout(ctx, jsToolTimeout)
	defer cancel()
	stop := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt("timeout")
		case <-stop:
		}
	}()
	defer close(stop)

	if _, err := vm.RunString(t.source); err != nil {
		return ErrorResult(fmt.Sprintf("script error in %s: %v", filepath.Base(t.path), err))
	}
	obj := vm.Get("tool").ToObject(vm)
	run, ok := goja.AssertFunction(obj.Get("run"))
	if !ok {
		return ErrorResult("tool.run is not a function")
	}

	result, err := run(obj, vm.ToValue(args))
	if err != nil {
		if _, interrupted := err.(*goja.InterruptedError); interrupted {
			return ErrorResult(fmt.Sprintf("custom tool %s timed out after %s", t.name, jsToolTimeout))
		}
		return ErrorResult(fmt.Sprintf("custom tool %s failed: %v", t.name, err))
	}

	out := ""
	if result != nil && !goja.IsUndefined(result) && !goja.IsNull(result) {
		out = result.String()
	}
	if len(logs) > 0 {
		if out != "" {
			out += "\n"
		}
		out += "[console]\n" + strings.Join(logs, "\n")
	}
	if out == "" {
		out = "(no output)"
	}
	return SilentResult(truncate(out, maxExecOutput))
}
