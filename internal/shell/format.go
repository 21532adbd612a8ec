package shell

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/j-angnoe/flux-framework-bundle/internal/shared/utils"
)

// Option is one command line option. Keys starting with "-" are used as
// is, single characters become "-k" and anything else becomes "--key".
type Option struct {
	Key   string
	Value any
}

// Options is an ordered list of command line options.
type Options []Option

// Quote wraps s in single quotes for a POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Format fills the placeholders of a command template.
//
// "?" is replaced by the quoted argument. "%s" is replaced by the raw
// argument unless it is surrounded by quotes, as in '%s' or "%s", in which
// case the quotes are replaced by proper quoting. A "?" preceded by "$"
// is left alone so "$?" keeps working. Options and maps expand to flags
// wherever they appear. Arguments left over after all placeholders are
// filled are appended, quoted. A template with more placeholders than
// arguments fails with ErrMissingArgument.
func Format(template string, args ...any) (string, error) {
	var sb strings.Builder
	next := 0
	i := 0
	for i < len(template) {
		j := i
		for j < len(template) && (template[j] == '\'' || template[j] == '"') {
			j++
		}
		quotes := template[i:j]

		width := placeholderAt(template, j, i)
		if width == 0 || !strings.HasPrefix(template[j+width:], quotes) {
			sb.WriteByte(template[i])
			i++
			continue
		}

		if next >= len(args) {
			return "", fmt.Errorf("%w: %q needs more than %d", ErrMissingArgument, template, len(args))
		}
		value := args[next]
		next++

		quoted := quotes != "" || template[j] == '?'
		sb.WriteString(render(value, quoted))
		i = j + width + len(quotes)
	}

	for _, a := range args[next:] {
		if s := render(a, true); s != "" {
			sb.WriteByte(' ')
			sb.WriteString(s)
		}
	}
	return sb.String(), nil
}

// placeholderAt returns the width of the placeholder at j, or 0. start is
// where the surrounding quotes begin.
func placeholderAt(template string, j, start int) int {
	switch {
	case strings.HasPrefix(template[j:], "%s"):
		return 2
	case strings.HasPrefix(template[j:], "?"):
		if j == start && j > 0 && template[j-1] == '$' {
			return 0
		}
		return 1
	}
	return 0
}

func render(value any, quoted bool) string {
	switch v := value.(type) {
	case Options:
		return expand(v)
	case Option:
		return expand(Options{v})
	case map[string]any:
		return expand(mapOptions(v))
	case map[string]string:
		opts := make(Options, 0, len(v))
		for _, k := range slices.Sorted(maps.Keys(v)) {
			opts = append(opts, Option{Key: k, Value: v[k]})
		}
		return expand(opts)
	}
	if !utils.IsScalar(value) {
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			parts := make([]string, rv.Len())
			for i := range parts {
				parts[i] = Quote(utils.Stringify(rv.Index(i).Interface()))
			}
			return strings.Join(parts, " ")
		}
	}
	s := utils.Stringify(value)
	if quoted {
		return Quote(s)
	}
	return s
}

func mapOptions(m map[string]any) Options {
	opts := make(Options, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		opts = append(opts, Option{Key: k, Value: m[k]})
	}
	return opts
}

// expand renders options as flags. true renders a bare flag, false and
// nil are omitted, keys starting with "#" are skipped and slices repeat
// the flag once per element.
func expand(opts Options) string {
	var parts []string
	for _, o := range opts {
		if o.Key == "" || strings.HasPrefix(o.Key, "#") {
			continue
		}
		flag := flagName(o.Key)
		for _, v := range optionValues(o.Value) {
			switch t := v.(type) {
			case nil:
				continue
			case bool:
				if t {
					parts = append(parts, flag)
				}
				continue
			}
			parts = append(parts, flag+" "+Quote(utils.Stringify(v)))
		}
	}
	return strings.Join(parts, " ")
}

func flagName(key string) string {
	switch {
	case strings.HasPrefix(key, "-"):
		return key
	case len(key) == 1:
		return "-" + key
	}
	return "--" + key
}

func optionValues(v any) []any {
	if v == nil || utils.IsScalar(v) {
		return []any{v}
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
