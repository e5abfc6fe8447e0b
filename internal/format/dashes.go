package format

import "strings"

// NormalizeDashes rewrites a leading em or en dash, as inserted by
// chat clients and word processors in place of "--", to "--".
func NormalizeDashes(arg string) string {
	for _, d := range []string{"—", "–"} {
		if rest, ok := strings.CutPrefix(arg, d); ok {
			return "--" + strings.TrimLeft(rest, "-—–")
		}
	}
	return arg
}

// NormalizeArgs applies NormalizeDashes to every element of args.
func NormalizeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = NormalizeDashes(a)
	}
	return out
}
