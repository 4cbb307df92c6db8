package expr

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// SubjectFuncs returns CEL environment options for subject selection.
//
// Functions:
//   - xxhash(string) -> string: xxHash64 as hex (16 chars max)
//   - hash(string) -> int: xxHash64 with the sign bit cleared
//   - shard(string, int) -> int: xxHash64 modulo n, for splitting a dataset
//     across machines
//   - stem(string) -> string: file name without directory or extension
func SubjectFuncs() cel.EnvOption {
	return cel.Lib(&subjectLib{})
}

type subjectLib struct{}

func (l *subjectLib) LibraryName() string {
	return "sleepseq.subject"
}

func hash63(s string) uint64 {
	return xxhash.Sum64String(s) & (1<<63 - 1)
}

func (l *subjectLib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Function("xxhash",
			cel.Overload("xxhash_string",
				[]*cel.Type{cel.StringType},
				cel.StringType,
				cel.UnaryBinding(func(s ref.Val) ref.Val {
					sum := xxhash.Sum64String(string(s.(types.String)))
					return types.String(strconv.FormatUint(sum, 16))
				}),
			),
		),
		cel.Function("hash",
			cel.Overload("hash_string",
				[]*cel.Type{cel.StringType},
				cel.IntType,
				cel.UnaryBinding(func(s ref.Val) ref.Val {
					return types.Int(hash63(string(s.(types.String))))
				}),
			),
		),
		cel.Function("shard",
			cel.Overload("shard_string_int",
				[]*cel.Type{cel.StringType, cel.IntType},
				cel.IntType,
				cel.BinaryBinding(func(s, n ref.Val) ref.Val {
					count := int64(n.(types.Int))
					if count <= 0 {
						return types.NewErr("shard: count must be positive, got %d", count)
					}
					return types.Int(xxhash.Sum64String(string(s.(types.String))) % uint64(count))
				}),
			),
		),
		cel.Function("stem",
			cel.Overload("stem_string",
				[]*cel.Type{cel.StringType},
				cel.StringType,
				cel.UnaryBinding(func(s ref.Val) ref.Val {
					base := filepath.Base(string(s.(types.String)))
					return types.String(strings.TrimSuffix(base, filepath.Ext(base)))
				}),
			),
		),
	}
}

func (l *subjectLib) ProgramOptions() []cel.ProgramOption {
	return nil
}
