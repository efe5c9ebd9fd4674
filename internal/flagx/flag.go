// Package flagx lets each config layer parse only the command-line flags it
// owns, so the JSON layer and the flag layer can share os.Args.
package flagx

import (
	"flag"
	"strings"
)

// FilterArgs keeps the flags named in valueFlags together with their
// values. Both "-f value" and "-f=value" are recognised. Everything after a
// bare "--" is dropped.
func FilterArgs(args []string, valueFlags []string) []string {
	return FilterArgsWithBools(args, valueFlags, nil)
}

// FilterArgsWithBools is FilterArgs for flag sets that also contain boolean
// switches. A switch never takes the next argument as its value.
func FilterArgsWithBools(args []string, valueFlags []string, boolFlags []string) []string {
	kind := make(map[string]bool, len(valueFlags)+len(boolFlags))
	for _, f := range valueFlags {
		kind[f] = true
	}
	for _, f := range boolFlags {
		kind[f] = false
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}

		if name, _, ok := strings.Cut(arg, "="); ok && strings.HasPrefix(arg, "-") {
			if _, known := kind[name]; known {
				out = append(out, arg)
			}
			continue
		}

		takesValue, known := kind[arg]
		if !known {
			continue
		}
		out = append(out, arg)
		if takesValue && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}

// ConfigPath returns the JSON config file named by -c or -config in args,
// or "" when neither is present. The last occurrence wins.
func ConfigPath(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "path to the JSON config file")
	fs.StringVar(&path, "c", "", "path to the JSON config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config", "--config"}))

	return path
}
