// Package flagx lets several independent flag sets share one command line:
// the server config, the JSON config overlay and admin subcommands each pick
// out only the flags they own.
package flagx

import (
	"flag"
	"strings"
)

// SplitArgs partitions args into the allowed flags (with their values) and
// everything else, keeping the original order in both halves.
//
// Supported forms:
//
//	-c conf.json      flag and value as separate arguments
//	--config=x.json   flag and value joined with '='
//
// A token following an allowed flag is taken as its value unless it starts
// with '-' or the flag is listed in boolFlags. Bool flags are also allowed.
func SplitArgs(args []string, allowedFlags []string, boolFlags ...string) (matched, rest []string) {
	allowed := make(map[string]bool, len(allowedFlags)+len(boolFlags))
	for _, f := range allowedFlags {
		allowed[f] = true
	}
	for _, f := range boolFlags {
		allowed[f] = false
	}

	matched = make([]string, 0, len(args))
	rest = make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name := strings.SplitN(arg, "=", 2)[0]
			if _, ok := allowed[name]; ok {
				matched = append(matched, arg)
			} else {
				rest = append(rest, arg)
			}
			continue
		}

		takesValue, ok := allowed[arg]
		if !ok {
			rest = append(rest, arg)
			continue
		}

		matched = append(matched, arg)
		if takesValue && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			matched = append(matched, args[i+1])
			i++
		}
	}

	return matched, rest
}

// FilterArgs returns only the allowed flags from args.
func FilterArgs(args []string, allowedFlags []string, boolFlags ...string) []string {
	matched, _ := SplitArgs(args, allowedFlags, boolFlags...)
	return matched
}

// JsonConfigFlags returns the path given with -c or -config in args, or "".
func JsonConfigFlags(args []string) string {
	var config string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config"}))

	return config
}
