package layout

import (
	"os"
	"strings"
)

// Environ returns base with the runtime and media tool directories prepended
// to the executable search path, followed by extra. Later entries win when a
// key repeats, matching os/exec semantics.
func (l RuntimeLayout) Environ(base []string, extra ...string) []string {
	dirs := []string{l.RuntimeDir(), l.MediaToolDir()}
	prefix := strings.Join(dirs, string(os.PathListSeparator))

	env := make([]string, 0, len(base)+len(extra)+1)
	found := false
	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if ok && strings.EqualFold(key, "PATH") {
			found = true
			if value != "" {
				value = prefix + string(os.PathListSeparator) + value
			} else {
				value = prefix
			}
			kv = key + "=" + value
		}
		env = append(env, kv)
	}
	if !found {
		env = append(env, "PATH="+prefix)
	}
	return append(env, extra...)
}

// MediaToolPresent reports whether the media tool executable exists.
func (l RuntimeLayout) MediaToolPresent() bool {
	info, err := os.Stat(l.mediaToolExecutable)
	return err == nil && !info.IsDir()
}
