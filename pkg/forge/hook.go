package forge

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// hookFunction is the function a metadata hook script must define.
const hookFunction = "metadata"

// MetadataHook runs a Starlark script adjusting the maestro metadata before
// the server is created. The script defines:
//
//	def metadata(forge, meta):
//	    meta["extra"] = "value"
//	    return meta
//
// The returned dict replaces the metadata. Values are converted to strings.
type MetadataHook struct {
	name    string
	script  string
	timeout time.Duration
}

// NewMetadataHook creates a hook from script source. name is used in error
// positions.
func NewMetadataHook(name, script string, timeout time.Duration) *MetadataHook {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &MetadataHook{name: name, script: script, timeout: timeout}
}

// LoadMetadataHook reads a hook script file.
func LoadMetadataHook(path string, timeout time.Duration) (*MetadataHook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata hook: %w", err)
	}
	return NewMetadataHook(path, string(data), timeout), nil
}

// Apply runs the hook on meta for forge.
func (h *MetadataHook) Apply(ctx context.Context, forge string, meta map[string]string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "forj-metadata",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}
	globals, err := starlark.ExecFile(thread, h.name, h.script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}
	fn, ok := globals[hookFunction].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s does not define a '%s(forge, meta)' function", h.name, hookFunction)
	}

	in := make(map[string]any, len(meta))
	for k, v := range meta {
		in[k] = v
	}
	dict, err := toStarlarkValue(in)
	if err != nil {
		return nil, err
	}

	res, err := starlark.Call(thread, fn, starlark.Tuple{starlark.String(forge), dict}, nil)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}
	out, err := fromStarlarkValue(res)
	if err != nil {
		return nil, err
	}
	m, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must return a dict, got %s", hookFunction, res.Type())
	}

	result := make(map[string]string, len(m))
	for k, v := range m {
		switch v := v.(type) {
		case nil:
			continue
		case string:
			result[k] = v
		default:
			result[k] = fmt.Sprint(v)
		}
	}
	return result, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
