package expr

import (
	"path/filepath"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// StringFuncs returns CEL environment options for picking apart subject IDs
// and paths.
//
// Functions:
//   - lower(string) -> string
//   - upper(string) -> string
//   - trimPrefix(string, prefix) -> string: Remove prefix if present
//   - trimSuffix(string, suffix) -> string: Remove suffix if present
//   - split(string, separator) -> list<string>
//   - dir(string) -> string: last directory component of a path
//
// Combined with the built-in int() conversion these select numeric ranges,
// e.g. int(trimPrefix(subject, "shhs1-")) < 200100.
func StringFuncs() cel.EnvOption {
	return cel.Lib(&stringLib{})
}

type stringLib struct{}

func (l *stringLib) LibraryName() string {
	return "sleepseq.strings"
}

func unaryString(name string, fn func(string) string) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_string",
			[]*cel.Type{cel.StringType},
			cel.StringType,
			cel.UnaryBinding(func(s ref.Val) ref.Val {
				return types.String(fn(string(s.(types.String))))
			}),
		),
	)
}

func binaryString(name string, fn func(string, string) string) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_string_string",
			[]*cel.Type{cel.StringType, cel.StringType},
			cel.StringType,
			cel.BinaryBinding(func(a, b ref.Val) ref.Val {
				return types.String(fn(string(a.(types.String)), string(b.(types.String))))
			}),
		),
	)
}

func (l *stringLib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		unaryString("lower", strings.ToLower),
		unaryString("upper", strings.ToUpper),
		unaryString("dir", func(p string) string {
			return filepath.Base(filepath.Dir(p))
		}),
		binaryString("trimPrefix", strings.TrimPrefix),
		binaryString("trimSuffix", strings.TrimSuffix),
		cel.Function("split",
			cel.Overload("split_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.ListType(cel.StringType),
				cel.BinaryBinding(func(s, sep ref.Val) ref.Val {
					parts := strings.Split(
						string(s.(types.String)),
						string(sep.(types.String)),
					)
					return types.DefaultTypeAdapter.NativeToValue(parts)
				}),
			),
		),
	}
}

func (l *stringLib) ProgramOptions() []cel.ProgramOption {
	return nil
}
