package config

import (
	"path/filepath"
	"strings"

	"github.com/inconshreveable/log15"
	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
)

const (
	defaultMaxDepthChecked   = 10
	defaultMaxDepthUnchecked = 3
)

// ErrMaxDepth and ErrRecursiveInclude are the two include-time failure
// modes of "Failure semantics".
var (
	ErrMaxDepth          = eris.New("include depth exceeded")
	ErrRecursiveInclude  = eris.New("recursive include detected")
)

// Loader parses the hierarchical .ini-like configuration format, reading
// through an afero.Fs so tests can substitute an in-memory filesystem
// instead of touching disk — the same cobra/viper/afero pattern used
// for config access throughout this project's CLI tooling.
type Loader struct {
	Fs  afero.Fs
	Log log15.Logger

	// IncludeDir is an extra search path consulted when a relative
	// include target is not found next to the including file
	// (general.include_dir).
	IncludeDir string

	// Vars backs $enabled's $filled/$empty/$bool forms and the generic
	// "after variable substitution" rule; callers typically wire this to
	// the shared-variable store or process environment.
	Vars map[string]string

	// PluginLoaded backs $enabled's $loaded/$unloaded forms.
	PluginLoaded func(name string) bool
}

// NewLoader builds a Loader against the OS filesystem with a discard
// logger as its zero-value-friendly default.
func NewLoader() *Loader {
	l := log15.New()
	l.SetHandler(log15.DiscardHandler())
	return &Loader{Fs: afero.NewOsFs(), Log: l, Vars: map[string]string{}}
}

type loadState struct {
	cfg       *Config
	onStack   map[string]bool
	loaded    map[string]bool
	enabled   bool
	elseTaken bool
	markers   []sectionMarker
	depth     int
}

type sectionMarker struct {
	dest       *Section
	sourceName string
	silent     bool
	required   bool
}

// Load parses path (and everything it transitively includes) into a
// Config. A failed `$require` anywhere in the tree makes Load return an
// error; a failed `$include`/`$includesilent` is tolerated and only
// logged.
func (l *Loader) Load(path string) (*Config, error) {
	if l.Fs == nil {
		l.Fs = afero.NewOsFs()
	}
	if l.Log == nil {
		l.Log = discardLog()
	}
	st := &loadState{
		cfg:     newConfig(),
		onStack: map[string]bool{},
		loaded:  map[string]bool{},
		enabled: true,
	}
	if err := l.loadFile(st, path, 0, true); err != nil {
		return st.cfg, err
	}
	l.resolveMarkers(st)
	return st.cfg, nil
}

func discardLog() log15.Logger {
	lg := log15.New()
	lg.SetHandler(log15.DiscardHandler())
	return lg
}

func (l *Loader) effectiveMaxDepth(cfg *Config) int64 {
	checked := l.checkRecursive(cfg)
	def := int64(defaultMaxDepthUnchecked)
	if checked {
		def = defaultMaxDepthChecked
	}
	return cfg.GetIntValue("configuration", "max_depth", def)
}

func (l *Loader) checkRecursive(cfg *Config) bool {
	return cfg.GetBoolValue("configuration", "check_recursive_include", true)
}

func (l *Loader) includeSilentDisabled(cfg *Config) bool {
	return cfg.GetBoolValue("configuration", "disable_include_silent", false)
}

func (l *Loader) includeEmptyAllowed(cfg *Config) bool {
	return cfg.GetBoolValue("configuration", "include_empty", false)
}

func (l *Loader) warningsEnabled(cfg *Config) bool {
	return cfg.GetBoolValue("configuration", "warnings", true)
}

func (l *Loader) warn(cfg *Config, msg string, ctx ...interface{}) {
	if l.warningsEnabled(cfg) {
		l.Log.Warn(msg, ctx...)
	}
}

// loadFile parses one physical file (already resolved to an absolute-ish
// path) into st.cfg, recursing into its own include directives.
func (l *Loader) loadFile(st *loadState, path string, depth int, required bool) error {
	if int64(depth) > l.effectiveMaxDepth(st.cfg) {
		l.warn(st.cfg, "include depth exceeded", "path", path, "depth", depth)
		if required {
			return eris.Wrapf(ErrMaxDepth, "include depth exceeded loading %s", path)
		}
		return nil
	}

	if l.checkRecursive(st.cfg) {
		if st.onStack[path] {
			l.warn(st.cfg, "recursive include detected", "path", path)
			if required {
				return eris.Wrapf(ErrRecursiveInclude, "recursive include of %s", path)
			}
			return nil
		}
		if st.loaded[path] {
			// Path-dedup: silently skip a file already merged in.
			return nil
		}
	}

	data, err := afero.ReadFile(l.Fs, path)
	if err != nil {
		l.warn(st.cfg, "failed to read config file", "path", path, "error", err)
		if required {
			return eris.Wrapf(err, "failed to read required config file %s", path)
		}
		return nil
	}

	st.onStack[path] = true
	st.loaded[path] = true
	defer delete(st.onStack, path)

	prevDepth := st.depth
	st.depth = depth
	defer func() { st.depth = prevDepth }()

	return l.parse(st, path, data)
}

func (l *Loader) parse(st *loadState, path string, data []byte) error {
	lines := logicalLines(stripBOM(data))

	var cur *Section
	for _, ln := range lines {
		line := strings.TrimRight(ln, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			inner := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
			if strings.HasPrefix(inner, "$") {
				if err := l.directive(st, path, inner, &cur); err != nil {
					return err
				}
				continue
			}
			if inner == "" {
				l.warn(st.cfg, "ignoring empty section name", "path", path)
				continue
			}
			cur = st.cfg.SectionOrCreate(inner)
			continue
		}

		if !st.enabled {
			continue
		}
		if cur == nil {
			l.warn(st.cfg, "parameter outside any section, dropped", "path", path, "line", line)
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			l.warn(st.cfg, "malformed parameter line, dropped", "path", path, "line", line)
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		cur.add(key, val)
	}
	return nil
}

func (l *Loader) directive(st *loadState, path, inner string, cur **Section) error {
	fields := strings.Fields(inner)
	if len(fields) == 0 {
		return nil
	}
	name := fields[0]
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(inner), name))

	switch name {
	case "$enabled":
		l.evalEnabled(st, rest)
		return nil
	case "$include", "$require", "$includesilent":
		if !st.enabled {
			return nil
		}
		required := name == "$require"
		silent := name == "$includesilent" && !l.includeSilentDisabled(st.cfg)
		return l.include(st, path, rest, required, silent)
	case "$includesection", "$requiresection", "$includesectionsilent":
		if !st.enabled {
			return nil
		}
		if *cur == nil {
			l.warn(st.cfg, "section-include directive outside any section, dropped", "path", path)
			return nil
		}
		st.markers = append(st.markers, sectionMarker{
			dest:       *cur,
			sourceName: rest,
			silent:     name == "$includesectionsilent",
			required:   name == "$requiresection",
		})
		return nil
	default:
		l.warn(st.cfg, "unrecognised directive, ignored", "path", path, "directive", name)
		return nil
	}
}

func (l *Loader) include(st *loadState, fromPath, target string, required, silent bool) error {
	_ = silent // silent is not acted on: a failed $includesilent logs the same warning as $include
	if target == "" {
		if !l.includeEmptyAllowed(st.cfg) {
			return nil
		}
		target = filepath.Dir(fromPath)
	}

	resolved := l.resolvePath(fromPath, target)
	isDir, _ := afero.IsDir(l.Fs, resolved)
	if isDir {
		files, err := sortedFilesIn(l.Fs, resolved)
		if err != nil {
			l.warn(st.cfg, "failed to list include directory", "path", resolved, "error", err)
			if required {
				return eris.Wrapf(err, "failed to list required include directory %s", resolved)
			}
			return nil
		}
		for _, f := range files {
			if err := l.loadFile(st, filepath.Join(resolved, f), st.depth+1, required); err != nil {
				return err
			}
		}
		return nil
	}
	return l.loadFile(st, resolved, st.depth+1, required)
}

func (l *Loader) resolvePath(fromPath, target string) string {
	if filepath.IsAbs(target) {
		return target
	}
	candidate := filepath.Join(filepath.Dir(fromPath), target)
	if exists, _ := afero.Exists(l.Fs, candidate); exists {
		return candidate
	}
	if l.IncludeDir != "" {
		alt := filepath.Join(l.IncludeDir, target)
		if exists, _ := afero.Exists(l.Fs, alt); exists {
			return alt
		}
	}
	return candidate
}

// resolveMarkers performs the second pass: markers are processed in the
// order they were read, and each appends the referenced section's params,
// as they stand at that moment, to the end of the section that held it.
// Markers are not expanded recursively: a referenced section's own
// markers count only if they were processed earlier, and the resolving
// set never detects a cycle. A missing target is only warned about, for
// $requiresection as well.
func (l *Loader) resolveMarkers(st *loadState) {
	resolving := map[string]bool{}
	for _, m := range st.markers {
		l.resolveOneMarker(st, m, resolving)
	}
}

func (l *Loader) resolveOneMarker(st *loadState, m sectionMarker, resolving map[string]bool) {
	if resolving[m.sourceName] {
		l.warn(st.cfg, "recursive section include detected", "section", m.sourceName)
		return
	}
	src := st.cfg.Section(m.sourceName)
	if src == nil {
		l.warn(st.cfg, "section-include target not found", "section", m.sourceName)
		return
	}
	resolving[m.sourceName] = true
	defer delete(resolving, m.sourceName)

	for _, p := range src.Params {
		m.dest.add(p.Key, p.Value)
	}
}

// evalEnabled implements the $enabled sub-forms.
func (l *Loader) evalEnabled(st *loadState, rest string) {
	rest = strings.TrimSpace(rest)
	switch {
	case rest == "" || rest == "toggle":
		st.enabled = !st.enabled
	case rest == "else":
		if st.elseTaken {
			st.enabled = false
		} else {
			st.enabled = true
			st.elseTaken = true
		}
	case strings.HasPrefix(rest, "elseif "):
		cond := strings.TrimSpace(strings.TrimPrefix(rest, "elseif "))
		if st.elseTaken {
			st.enabled = false
			return
		}
		st.enabled = l.evalCond(cond)
		if st.enabled {
			st.elseTaken = true
		}
	default:
		st.enabled = l.evalCond(rest)
		st.elseTaken = st.enabled
	}
}

func (l *Loader) evalCond(cond string) bool {
	fields := strings.Fields(cond)
	if len(fields) == 0 {
		return false
	}
	negate := false
	if fields[0] == "$not" {
		negate = true
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return negate
	}

	var result bool
	switch fields[0] {
	case "$loaded":
		name := arg(fields, 1)
		result = l.PluginLoaded != nil && l.PluginLoaded(name)
	case "$unloaded":
		name := arg(fields, 1)
		result = !(l.PluginLoaded != nil && l.PluginLoaded(name))
	case "$filled":
		result = l.Vars[arg(fields, 1)] != ""
	case "$empty":
		result = l.Vars[arg(fields, 1)] == ""
	case "$bool":
		result = ParseBool(l.Vars[arg(fields, 1)], false)
	default:
		result = ParseBool(substituteVars(strings.Join(fields, " "), l.Vars), false)
	}
	if negate {
		result = !result
	}
	return result
}

func arg(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

func substituteVars(s string, vars map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			end := strings.IndexByte(s[i:], '}')
			if end > 0 {
				name := s[i+2 : i+end]
				b.WriteString(vars[name])
				i += end
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

// logicalLines splits data into physical lines, joining any line ending
// in a backslash with the next physical line ("a logical
// line ending in a backslash before newline continues on the next
// physical line").
func logicalLines(data []byte) []string {
	raw := strings.Split(string(data), "\n")
	var out []string
	var pending string
	for _, r := range raw {
		r = strings.TrimSuffix(r, "\r")
		if pending != "" {
			r = pending + r
			pending = ""
		}
		if strings.HasSuffix(r, "\\") && !strings.HasSuffix(r, "\\\\") {
			pending = strings.TrimSuffix(r, "\\")
			continue
		}
		out = append(out, r)
	}
	if pending != "" {
		out = append(out, pending)
	}
	return out
}
