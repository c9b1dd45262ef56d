package locspec

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-delve/onbreak/pkg/logflags"
	"github.com/go-delve/onbreak/pkg/target"
)

// FuncSymbol is a parsed function symbol.
type FuncSymbol struct {
	PackageName  string
	ReceiverName string
	// PointerReceiver is true for symbols like pkg.(*T).m.
	PointerReceiver bool
	BaseName        string
}

// ParseFuncSymbol parses a function symbol as printed by the debugger,
// for example "github.com/org/app/pkg.(*Server).handle". Closures and
// other symbols with more than three components are rejected.
func ParseFuncSymbol(in string) (FuncSymbol, bool) {
	var v []string
	pathend := strings.LastIndex(in, "/")
	if pathend < 0 {
		v = splitSymbol(in)
	} else {
		v = splitSymbol(in[pathend:])
		if len(v) > 0 {
			v[0] = in[:pathend] + v[0]
		}
	}

	var sym FuncSymbol
	switch len(v) {
	case 2:
		sym.PackageName = v[0]
		sym.BaseName = v[1]
	case 3:
		sym.PackageName = v[0]
		r := stripReceiverDecoration(v[1])
		sym.PointerReceiver = r != v[1]
		sym.ReceiverName = r
		sym.BaseName = v[2]
	default:
		return FuncSymbol{}, false
	}
	if sym.PackageName == "" || sym.BaseName == "" {
		return FuncSymbol{}, false
	}
	return sym, true
}

// splitSymbol splits on '.' outside of brackets, type parameters of
// generic receivers may contain dots.
func splitSymbol(in string) []string {
	var r []string
	depth := 0
	start := 0
	for i, ch := range in {
		switch ch {
		case '[':
			depth++
		case ']':
			depth--
		case '.':
			if depth == 0 {
				r = append(r, in[start:i])
				start = i + 1
			}
		}
	}
	return append(r, in[start:])
}

func stripReceiverDecoration(in string) string {
	if len(in) < 3 {
		return in
	}
	if (in[0] != '(') || (in[1] != '*') || (in[len(in)-1] != ')') {
		return in
	}

	return in[2 : len(in)-1]
}

// TypeName returns the fully qualified name of the receiver type of sym,
// "" if sym is not a method.
func (sym FuncSymbol) TypeName() string {
	if sym.ReceiverName == "" {
		return ""
	}
	return sym.PackageName + "." + sym.ReceiverName
}

// SplitTypeName splits a fully qualified type name in package path and
// type name.
func SplitTypeName(typeName string) (pkg, name string, ok bool) {
	pathend := strings.LastIndex(typeName, "/")
	dot := strings.Index(typeName[pathend+1:], ".")
	if dot < 0 {
		return "", "", false
	}
	dot += pathend + 1
	pkg, name = typeName[:dot], typeName[dot+1:]
	if pkg == "" || name == "" || strings.HasPrefix(pkg, "*") {
		return "", "", false
	}
	return pkg, name, true
}

// TypeFilter returns a regular expression matching exactly typeName.
func TypeFilter(typeName string) string {
	return "^" + regexp.QuoteMeta(typeName) + "$"
}

// MethodFilter returns a regular expression matching the symbols of all
// the methods of typeName, both with value and pointer receivers.
func MethodFilter(typeName string) (string, error) {
	pkg, name, ok := SplitTypeName(typeName)
	if !ok {
		return "", fmt.Errorf("%q is not a fully qualified type name", typeName)
	}
	qn := regexp.QuoteMeta(name)
	return "^" + regexp.QuoteMeta(pkg) + `\.(` + qn + `|\(\*` + qn + `\))\.[^.]+$`, nil
}

// Resolve finds the location of spec among the types currently loaded
// by table. The first type named exactly spec.Type that has a method
// named spec.Method wins. The result only reflects the types loaded at
// the time of the call.
func Resolve(table target.TypeTable, spec target.BreakpointSpec) (target.Location, error) {
	log := logflags.ResolverLogger()
	log.Infof("Setting breakpoint at %s", spec)

	types, err := table.Types(TypeFilter(spec.Type))
	if err != nil {
		return target.Location{}, fmt.Errorf("could not list types: %w", err)
	}

	matched := 0
	var found *target.Method
	for _, typ := range types {
		if typ != spec.Type {
			continue
		}
		matched++
		if found != nil {
			continue
		}
		methods, err := table.Methods(typ)
		if err != nil {
			return target.Location{}, fmt.Errorf("could not list methods of %s: %w", typ, err)
		}
		for i := range methods {
			if methods[i].Name != spec.Method {
				continue
			}
			if found == nil {
				found = &methods[i]
			} else {
				log.Debugf("ambiguous method %s, ignoring %s", spec, methods[i].Symbol)
			}
		}
	}
	if matched > 1 {
		log.Debugf("type %s loaded %d times, using the first one", spec.Type, matched)
	}
	if found == nil {
		if matched == 0 {
			return target.Location{}, fmt.Errorf("%w: no loaded type named %s", target.ErrNotFound, spec.Type)
		}
		return target.Location{}, fmt.Errorf("%w: type %s has no method %s", target.ErrNotFound, spec.Type, spec.Method)
	}

	loc, err := table.Locate(found.Symbol)
	if err != nil {
		return target.Location{}, fmt.Errorf("could not find location of %s: %w", found.Symbol, err)
	}
	log.Debugf("resolved %s to %s", spec, loc)
	return loc, nil
}
