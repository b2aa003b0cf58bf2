// Package manager implements the global script manager: a catalog of
// named scripts, load/reload with fail-keep-old policy, multi-instance
// spawning, and mark-and-sweep uninstallation of handlers/post-hooks on
// reload. It generalizes a request-router bootstrap into a
// script-driven equivalent: instead of a switch over request kinds,
// the catalog reads a config.Config and spins up compiled scripts and
// message-bus handles.
package manager

import (
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/oklog/ulid"
	"github.com/rotisserie/eris"
	"github.com/spf13/afero"

	"github.com/inconshreveable/log15"

	"github.com/two-barrels/scriptrt/config"
	"github.com/two-barrels/scriptrt/eventworker"
	"github.com/two-barrels/scriptrt/messagebus"
	"github.com/two-barrels/scriptrt/native"
	"github.com/two-barrels/scriptrt/script"
)

// infoTypeFor maps a catalog ScriptType onto the script-info discriminant
// native code uses to report "why it runs".
func infoTypeFor(typ ScriptType) script.InfoType {
	if typ == TypeDynamic {
		return script.InfoDynamic
	}
	return script.InfoStatic
}

func newULID() ulid.ULID {
	id, err := ulid.New(ulid.Now(), nil)
	if err != nil {
		return ulid.ULID{}
	}
	return id
}

func parseInt(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

// ScriptType discriminates how a catalog entry was loaded.
type ScriptType int

const (
	TypeStatic ScriptType = iota
	TypeDynamic
	TypeLate
)

// instance is one running copy of a multi-instance script: its own
// context, event worker and top-level runner.
type instance struct {
	index  int
	ctx    *script.Context
	runner *script.Runner
}

// entry is one catalog record.
type entry struct {
	name          string
	file          string
	typ           ScriptType
	code          *script.Code
	instances     []*instance
	instanceCount int

	mu    sync.Mutex
	inUse bool
}

// Catalog is the global script manager.
type Catalog struct {
	Fs         afero.Fs
	Compiler   script.Compiler
	Bridge     *native.Bridge
	Dispatcher *messagebus.Dispatcher
	Log        log15.Logger

	ScriptsDir    string
	KeepOldOnFail bool

	mu        sync.Mutex
	scripts   map[string]*entry
	handlers  map[string]*messagebus.Handle // keyed by CanonicalKey, for mark-and-sweep dedupe
	posthooks map[string]*messagebus.Handle
}

// New builds an empty Catalog. Callers wire Fs/Compiler/Bridge/
// Dispatcher before calling Initialize.
func New() *Catalog {
	l := log15.New()
	l.SetHandler(log15.DiscardHandler())
	return &Catalog{
		Fs:         afero.NewOsFs(),
		Log:        l,
		scripts:    make(map[string]*entry),
		handlers:   make(map[string]*messagebus.Handle),
		posthooks:  make(map[string]*messagebus.Handle),
	}
}

func (c *Catalog) resolvePath(file string) string {
	if filepath.IsAbs(file) || c.ScriptsDir == "" {
		return file
	}
	return filepath.Join(c.ScriptsDir, file)
}

// Lookup returns the named entry's first (or only) instance context and
// code, for diagnostic commands and Message.installSingleton loaders.
func (c *Catalog) Lookup(name string) (*script.Context, *script.Code, bool) {
	c.mu.Lock()
	e, ok := c.scripts[name]
	c.mu.Unlock()
	if !ok || len(e.instances) == 0 {
		return nil, nil, false
	}
	return e.instances[0].ctx, e.code, true
}

// Load is the ScriptLoader the native bridge uses for
// Message.installSingleton: it parses file fresh every time, outside
// the catalog (global-singleton/script-singleton handles intentionally
// bypass the unchanged-file fast path, ).
func (c *Catalog) Load(file string) (*script.Context, *script.Code, error) {
	path := c.resolvePath(file)
	src, err := afero.ReadFile(c.Fs, path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "read script file")
	}
	code, err := c.Compiler.Compile(path, src)
	if err != nil {
		return nil, nil, eris.Wrap(err, "compile script")
	}
	inst := &instance{ctx: script.NewContext(c.Bridge.RootPrototype(), 0, 1)}
	if err := c.runMain(inst, code, script.InfoEval, file); err != nil {
		return nil, nil, err
	}
	return inst.ctx, code, nil
}

// InitScript implements "Loading": `initScript(name, file,
// type, relPath, instances)`.
func (c *Catalog) InitScript(name, file string, typ ScriptType, instances int) error {
	if instances < 1 {
		instances = 1
	}
	path := c.resolvePath(file)
	src, err := afero.ReadFile(c.Fs, path)
	readErr := err

	c.mu.Lock()
	old, hadOld := c.scripts[name]
	c.mu.Unlock()

	// Unchanged file + identical instance count: just mark in-use and
	// schedule a re-init. Any change of the instance count, not only a
	// 1<->N crossing, takes the full rebuild path below.
	if hadOld && readErr == nil && old.file == file && old.instanceCount == instances {
		if code, cerr := c.Compiler.Compile(path, src); cerr == nil && code == old.code {
			old.mu.Lock()
			old.inUse = true
			old.mu.Unlock()
			c.scheduleReinit(old)
			return nil
		}
	}

	if readErr != nil {
		if hadOld && c.KeepOldOnFail {
			old.mu.Lock()
			old.inUse = true
			old.mu.Unlock()
			c.Log.Warn("keeping previous script on read failure", "script", name, "error", readErr)
			return nil
		}
		return eris.Wrap(readErr, "read script file")
	}

	code, err := c.Compiler.Compile(path, src)
	if err != nil {
		if hadOld && c.KeepOldOnFail {
			old.mu.Lock()
			old.inUse = true
			old.mu.Unlock()
			c.Log.Warn("keeping previous script on parse failure", "script", name, "error", err)
			return nil
		}
		return eris.Wrap(err, "compile script")
	}

	e := &entry{name: name, file: file, typ: typ, code: code, instanceCount: instances, inUse: true}
	for i := 1; i <= instances; i++ {
		idx := i
		if instances == 1 {
			idx = 0
		}
		inst := &instance{index: idx}
		inst.ctx = script.NewContext(c.Bridge.RootPrototype(), idx, instances)
		e.instances = append(e.instances, inst)
		if err := c.runMain(inst, code, infoTypeFor(typ), name); err != nil {
			c.Log.Warn("script top-level run failed", "script", name, "instance", idx, "error", err)
		}
	}

	c.mu.Lock()
	if hadOld {
		c.teardownEntry(old)
	}
	c.scripts[name] = e
	c.mu.Unlock()
	return nil
}

func (c *Catalog) runMain(inst *instance, code *script.Code, it script.InfoType, name string) error {
	info := script.NewInfo(it, name)
	runner := code.NewRunner(inst.ctx, info)
	inst.runner = runner
	worker := c.Bridge.Worker(inst.ctx)
	runner.OnTopLevelDone(func(r *script.Runner) {
		worker.Post(eventworker.EventReInit)
	})
	status := runner.Execute()
	if status == script.Failed {
		return runner.LastError()
	}
	return nil
}

// scheduleReinit queues a re-init non-time event on every instance's
// event worker, delivered once the instance's top-level run has reached
// Succeeded/Failed.
func (c *Catalog) scheduleReinit(e *entry) {
	for _, inst := range e.instances {
		worker := c.Bridge.Worker(inst.ctx)
		runner := inst.runner
		ctx := inst.ctx
		worker.InstallNonTime(eventworker.EventReInit, false, func(args []interface{}) {
			if ctx.Terminated() || runner == nil {
				return
			}
			// RunFunction/Context.Get already take ctx.Mu for the lookup
			// itself; locking it here too would deadlock against a plain
			// (non-reentrant) sync.Mutex.
			_, _, _ = runner.RunFunction("onReInit", nil)
		})
		worker.Post(eventworker.EventReInit)
	}
}

func (c *Catalog) teardownEntry(e *entry) {
	for _, inst := range e.instances {
		c.Bridge.TeardownContext(inst.ctx)
		inst.ctx.Cleanup()
	}
}

// Initialize performs the full mark-and-sweep reload of:
// mark everything not-in-use, re-read cfg, reinstall scripts/handlers/
// post-hooks (each successful (re)installation marks itself in-use),
// then sweep anything left unmarked.
func (c *Catalog) Initialize(cfg *config.Config) error {
	c.mu.Lock()
	for _, e := range c.scripts {
		if e.typ == TypeStatic {
			continue
		}
		e.mu.Lock()
		e.inUse = false
		e.mu.Unlock()
	}
	for _, h := range c.handlers {
		h.MarkNotInUse()
	}
	for _, h := range c.posthooks {
		h.MarkNotInUse()
	}
	c.mu.Unlock()

	if s := cfg.Section("scripts"); s != nil {
		for _, p := range s.Params {
			if err := c.InitScript(p.Key, p.Value, TypeStatic, c.instancesFor(cfg, p.Key)); err != nil {
				c.Log.Error("failed to load script", "script", p.Key, "error", err)
			}
		}
	}
	if s := cfg.Section("late_scripts"); s != nil {
		for _, p := range s.Params {
			if err := c.InitScript(p.Key, p.Value, TypeLate, c.instancesFor(cfg, p.Key)); err != nil {
				c.Log.Error("failed to load late script", "script", p.Key, "error", err)
			}
		}
	}
	if s := cfg.Section("handlers"); s != nil {
		for _, p := range s.Params {
			if err := c.installHandlerLine(p.Key, p.Value, messagebus.KindHandler); err != nil {
				c.Log.Error("failed to install handler", "id", p.Key, "error", err)
			}
		}
	}
	if s := cfg.Section("posthooks"); s != nil {
		for _, p := range s.Params {
			if err := c.installHandlerLine(p.Key, p.Value, messagebus.KindPostHook); err != nil {
				c.Log.Error("failed to install post-hook", "id", p.Key, "error", err)
			}
		}
	}

	c.sweep()
	return nil
}

// installHandlerLine parses and (re)installs one `[handlers]`/
// `[posthooks]` config line:
//
//	handlers : <name>=<file>,<cb>,<prio>,<trackName>,<prefix>,<filter>,<ctx>,<scriptName>
//	posthooks: <id>=<file>,<cb>,<prefix>,<filter>,<ctx>,<msgNameFilter>,<scriptName>,<handled>
//
// Both variants install a Global-singleton handle: each
// delivery creates a fresh runner inside a newly parsed script, so
// parse errors never take down an already-installed handler
// (keep_old_on_fail behaviour falls out naturally, since the stale
// handle just keeps running unchanged).
func (c *Catalog) installHandlerLine(id, line string, kind messagebus.Kind) error {
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	field := func(i int) string {
		if i < 0 || i >= len(fields) {
			return ""
		}
		return fields[i]
	}

	file := field(0)
	cb := field(1)

	var msgName, filterSpec, ctxName, scriptName, trackLabel string
	priority := 0
	handled := messagebus.TriAny

	if kind == messagebus.KindHandler {
		priority = parseInt(field(2), 0)
		trackLabel = field(3)
		msgName = field(4)
		filterSpec = field(5)
		ctxName = field(6)
		scriptName = field(7)
	} else {
		filterSpec = field(3)
		ctxName = field(4)
		msgName = field(5)
		scriptName = field(6)
		handled = parseTri(field(7))
		_ = field(2)
	}

	var filter *messagebus.Filter
	if filterSpec != "" {
		if k, v, ok := strings.Cut(filterSpec, ":"); ok {
			filter = messagebus.NewStringFilter(k, v, true, false)
		}
	}

	newCtx := func() (*script.Context, *script.Code, error) {
		return c.Load(file)
	}

	var h *messagebus.Handle
	if kind == messagebus.KindHandler {
		h = messagebus.NewSingletonHandler(newULID(), messagebus.VariantGlobalSingleton, cb, priority, msgName, filter, newCtx)
		h.TrackLabel = trackLabel
	} else {
		h = messagebus.NewSingletonHandler(newULID(), messagebus.VariantGlobalSingleton, cb, 0, "", nil, newCtx)
		h.Kind = messagebus.KindPostHook
		h.Handled = handled
		if msgName != "" {
			h.MsgNameFilter = messagebus.NewStringFilter("name", msgName, true, false)
		} else {
			h.MsgNameFilter = messagebus.DefaultPostHookNameFilter()
		}
		h.NameFilter = filter
	}
	h.HandlerContext = ctxName
	_ = scriptName // parsed but not used: it has no effect on delivery or on the dedupe key

	c.mu.Lock()
	defer c.mu.Unlock()
	var table map[string]*messagebus.Handle
	if kind == messagebus.KindHandler {
		table = c.handlers
	} else {
		table = c.posthooks
	}
	canon := h.CanonicalKey()
	if existing, ok := table[canon]; ok {
		existing.MarkInUse()
		return nil
	}
	c.Dispatcher.Install(h)
	h.MarkInUse()
	table[canon] = h
	return nil
}

func parseTri(s string) messagebus.Tri {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return messagebus.TriTrue
	case "false":
		return messagebus.TriFalse
	default:
		return messagebus.TriAny
	}
}

func (c *Catalog) instancesFor(cfg *config.Config, name string) int {
	if s := cfg.Section("instances"); s != nil {
		if v, ok := s.Get(name); ok {
			if n := parseInt(v, 1); n > 0 {
				return n
			}
		}
	}
	return 1
}

// sweep uninstalls/destroys everything still marked not-in-use, per
// step 3.
func (c *Catalog) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, e := range c.scripts {
		e.mu.Lock()
		inUse := e.inUse
		e.mu.Unlock()
		if !inUse {
			c.teardownEntry(e)
			delete(c.scripts, name)
		}
	}
	for key, h := range c.handlers {
		if !h.InUse() {
			c.Dispatcher.Uninstall(h.ID)
			delete(c.handlers, key)
		}
	}
	for key, h := range c.posthooks {
		if !h.InUse() {
			c.Dispatcher.Uninstall(h.ID)
			delete(c.posthooks, key)
		}
	}
}

// ReloadDynamic implements "Dynamic reload": rebuild every
// entry whose type is Dynamic using its current file path.
func (c *Catalog) ReloadDynamic() error {
	c.mu.Lock()
	var dynamic []*entry
	for _, e := range c.scripts {
		if e.typ == TypeDynamic {
			dynamic = append(dynamic, e)
		}
	}
	c.mu.Unlock()

	var firstErr error
	for _, e := range dynamic {
		if err := c.InitScript(e.name, e.file, TypeDynamic, e.instanceCount); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Reload reparses a single named script from its current file path,
// regardless of type, for the `reload <script>` console command.
func (c *Catalog) Reload(name string) error {
	c.mu.Lock()
	e, ok := c.scripts[name]
	c.mu.Unlock()
	if !ok {
		return eris.Errorf("unknown script: %s", name)
	}
	return c.InitScript(e.name, e.file, e.typ, e.instanceCount)
}

// Shutdown detaches all handlers and post-hooks, and drops all
// contexts. The caller is responsible for the ordering with
// Bridge.Shutdown (stop accepting new deliveries first).
func (c *Catalog) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.scripts {
		c.teardownEntry(e)
	}
	c.scripts = make(map[string]*entry)
	for _, h := range c.handlers {
		c.Dispatcher.Uninstall(h.ID)
	}
	c.handlers = make(map[string]*messagebus.Handle)
	for _, h := range c.posthooks {
		c.Dispatcher.Uninstall(h.ID)
	}
	c.posthooks = make(map[string]*messagebus.Handle)
}

// Names returns every currently loaded script name, for the `info`
// console command.
func (c *Catalog) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.scripts))
	for name := range c.scripts {
		out = append(out, name)
	}
	return out
}

// Allocations reports the allocation-tracker count for the named
// script: the instance whose index is instanceIdx, or the sum over all
// instances when instanceIdx is negative. It returns a single count;
// individual object sites are not ranked.
func (c *Catalog) Allocations(name string, instanceIdx int) int64 {
	c.mu.Lock()
	e, ok := c.scripts[name]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	var total int64
	for _, inst := range e.instances {
		if instanceIdx >= 0 && inst.index != instanceIdx {
			continue
		}
		total += inst.ctx.Alloc().Count()
	}
	return total
}
