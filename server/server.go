// Package server wires together the scripting core's collaborators
// (native bridge, global script manager, channel-assistant registry,
// message-bus transport) into the running daemon process. It
// generalizes a single fixed ARI connection plus a NATS/RabbitMQ
// message bus into a process that wires a config-driven script catalog
// plus the same message-bus transport instead.
package server

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"

	"github.com/inconshreveable/log15"

	"github.com/two-barrels/scriptrt/assistant"
	"github.com/two-barrels/scriptrt/config"
	"github.com/two-barrels/scriptrt/manager"
	"github.com/two-barrels/scriptrt/messagebus"
	"github.com/two-barrels/scriptrt/native"
	"github.com/two-barrels/scriptrt/objects"
	"github.com/two-barrels/scriptrt/script"
	"github.com/two-barrels/scriptrt/vars"
)

// hostMessages is the set of host messages this process subscribes to
// and relays into the channel-assistant manager.
var hostMessages = []string{
	"call.preroute",
	"call.route",
	"call.ringing",
	"call.answered",
	"chan.startup",
	"chan.hangup",
	"chan.disconnected",
	"engine.start",
	"engine.timer",
	"engine.halt",
}

// relay is one `[priorities]`-section entry: the module's own
// channel-assistant dispatch installed at a given priority alongside
// the script-installed handlers a bus message may also match.
//
// [IMPLEMENTATION DECISION, see DESIGN.md]: the built-in relay isn't
// script-backed, so it cannot become a messagebus.Handle the way a
// script-installed handler does (Handle.Invoke always resolves and
// runs a script.Runner). Instead the relay's priority only decides
// whether the channel-assistant manager gets first refusal of a host
// message (priority below defaultHandlerInsertionPriority) or only
// runs if no script handler claimed it first (priority at or above).
type relay struct {
	message  string
	priority int
}

const defaultRelayPriority = 100

// fanout is one `[messages]`-section entry: a message name plus a
// "key=value" match spec. Any locally-dispatched message by that name
// whose matching param equals the given value is additionally
// republished onto the Bus, fanning internal delivery out to whatever
// else is listening on the transport.
type fanout struct {
	name     string
	matchKey string
	matchVal string
}

// Server is the module/CLI surface: it owns every process-wide
// collaborator and relays host messages between the message-bus
// transport and the in-process Dispatcher.
type Server struct {
	// ID identifies this engine instance; used as the SharedObjects
	// owner tag and as the Bus subject prefix default.
	ID string

	Log log15.Logger

	Fs afero.Fs

	Vars    *vars.Store
	Objects *objects.Store

	Dispatcher *messagebus.Dispatcher
	Bus        messagebus.Bus
	MBPrefix   string

	Bridge   *native.Bridge
	Catalog  *manager.Catalog
	Channels *assistant.Manager

	config *config.Config

	relays  []relay
	fanouts []fanout

	mu     sync.Mutex
	subs   []messagebus.Subscription
	cancel context.CancelFunc
}

// New builds a Server from a loaded catalog configuration file. id
// identifies this engine instance. If cfg.general.message_bus names a
// nats:// or amqp:// URL, a matching Bus is constructed (Start connects it);
// an empty
// URL leaves the Server purely in-process (the Dispatcher alone still
// runs every script-installed handler/post-hook and channel-assistant
// callback, which is sufficient for tests and single-process
// deployments).
func New(id string, fs afero.Fs, configPath string) (*Server, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	loader := config.NewLoader()
	loader.Fs = fs
	cfg, err := loader.Load(configPath)
	if err != nil {
		return nil, eris.Wrap(err, "load catalog configuration")
	}

	s := &Server{
		ID:     id,
		Log:    discardLogger(),
		Fs:     fs,
		config: cfg,
	}

	s.Vars = vars.NewStore()
	s.Objects = objects.NewStore()
	s.Dispatcher = messagebus.NewDispatcher()

	general := cfg.Section("general")
	s.MBPrefix = "scriptrt."
	if general != nil {
		if v, ok := general.Get("mbus_prefix"); ok && v != "" {
			s.MBPrefix = v
		}
		if v, ok := general.Get("message_bus"); ok && v != "" {
			bus, berr := buildBus(v)
			if berr != nil {
				return nil, berr
			}
			s.Bus = bus
		}
	}

	s.Bridge = native.NewBridge(id, s.Vars, s.Objects, s.Dispatcher, s.Bus)
	s.Bridge.Log = s.Log
	s.Bridge.AllowAbort = cfg.GetBoolValue("general", "allow_abort", false)
	s.Bridge.AllowTrace = cfg.GetBoolValue("general", "allow_trace", false)
	s.Bridge.TrackObjects = cfg.GetBoolValue("general", "track_objects", false)

	compiler := script.NewCachingCompiler(script.NewSimpleCompiler())

	s.Catalog = manager.New()
	s.Catalog.Fs = fs
	s.Catalog.Log = s.Log
	s.Catalog.Compiler = compiler
	s.Catalog.Bridge = s.Bridge
	s.Catalog.Dispatcher = s.Dispatcher
	s.Catalog.KeepOldOnFail = cfg.GetBoolValue("general", "keep_old_on_fail", true)
	if general != nil {
		if dir, ok := general.Get("scripts_dir"); ok {
			s.Catalog.ScriptsDir = dir
		}
	}
	s.Bridge.Loader = s.Catalog.Load

	var routingCode *script.Code
	if general != nil {
		if routingFile, ok := general.Get("routing"); ok && routingFile != "" {
			path := routingFile
			if !strings.HasPrefix(path, "/") && s.Catalog.ScriptsDir != "" {
				path = s.Catalog.ScriptsDir + "/" + path
			}
			src, rerr := afero.ReadFile(fs, path)
			if rerr != nil {
				return nil, eris.Wrapf(rerr, "read routing script %s", path)
			}
			routingCode, err = compiler.Compile(path, src)
			if err != nil {
				return nil, eris.Wrapf(err, "compile routing script %s", path)
			}
		}
	}
	s.Channels = assistant.NewManager(s.Bridge, routingCode)

	s.relays = parseRelays(cfg)
	s.fanouts = parseFanouts(cfg)

	if err := s.Catalog.Initialize(cfg); err != nil {
		return nil, eris.Wrap(err, "initialize script catalog")
	}

	return s, nil
}

func discardLogger() log15.Logger {
	l := log15.New()
	l.SetHandler(log15.DiscardHandler())
	return l
}

func buildBus(url string) (messagebus.Bus, error) {
	switch messagebus.GetType(url) {
	case messagebus.TypeNats:
		return messagebus.NewNatsBus(messagebus.Config{URL: url}), nil
	case messagebus.TypeRabbitmq:
		return messagebus.NewRabbitmqBus(messagebus.Config{URL: url}), nil
	default:
		return nil, eris.Errorf("unrecognized message bus URL scheme: %s", url)
	}
}

func parseRelays(cfg *config.Config) []relay {
	s := cfg.Section("priorities")
	if s == nil {
		return nil
	}
	out := make([]relay, 0, len(s.Params))
	for _, p := range s.Params {
		n := defaultRelayPriority
		fmt.Sscanf(p.Value, "%d", &n)
		out = append(out, relay{message: p.Key, priority: n})
	}
	return out
}

func parseFanouts(cfg *config.Config) []fanout {
	s := cfg.Section("messages")
	if s == nil {
		return nil
	}
	out := make([]fanout, 0, len(s.Params))
	for _, p := range s.Params {
		k, v, _ := strings.Cut(p.Value, "=")
		out = append(out, fanout{name: p.Key, matchKey: k, matchVal: v})
	}
	return out
}

func (s *Server) relayPriority(name string) int {
	for _, r := range s.relays {
		if r.message == name {
			return r.priority
		}
	}
	return defaultRelayPriority
}

// Start connects the Bus (if configured) and subscribes to every host
// message this process consumes, relaying each delivery into the
// channel-assistant manager and the in-process Dispatcher. It also
// broadcasts script.init on startup.
func (s *Server) Start(ctx context.Context) error {
	if s.Bus != nil {
		if err := s.Bus.Connect(); err != nil {
			return eris.Wrap(err, "connect message bus")
		}
		for _, name := range hostMessages {
			sub, err := s.Bus.Subscribe(s.MBPrefix+name, func(_ string, msg *messagebus.Message) {
				s.handleHostMessage(msg)
			})
			if err != nil {
				return eris.Wrapf(err, "subscribe %s", name)
			}
			s.mu.Lock()
			s.subs = append(s.subs, sub)
			s.mu.Unlock()
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	go func() {
		<-runCtx.Done()
	}()

	s.emitScriptInit()
	return nil
}

// defaultHandlerInsertionPriority mirrors messagebus's own default
// handler priority of 100, so a relay installed below it runs before
// script handlers of default priority and one at or above it runs
// only if no script handler already claimed the message.
const defaultHandlerInsertionPriority = 100

// handleHostMessage is the built-in module relay: a host message
// arriving off the Bus is dispatched to the channel-assistant manager
// and to every script-installed handler/post-hook, in the order the
// message's configured priority implies (see the relay doc-comment
// above).
func (s *Server) handleHostMessage(msg *messagebus.Message) {
	prio := s.relayPriority(msg.Name)
	build := func(m *messagebus.Message) script.Operation { return s.Bridge.BuildMessageOperation(m) }

	handled := false
	if prio < defaultHandlerInsertionPriority {
		handled = s.Channels.HandleMessage(msg)
	}
	if !handled {
		handled = s.Dispatcher.Dispatch(msg, build)
	}
	if !handled && prio >= defaultHandlerInsertionPriority {
		handled = s.Channels.HandleMessage(msg)
	}
	if msg.Name == "call.execute" {
		s.Channels.PostExecuteHook(msg, handled)
	}
	msg.SetHandled(handled)
	s.maybeFanOut(msg)
}

// maybeFanOut republishes msg onto the Bus when a `[messages]` entry
// matches its name and the configured param/value pair.
func (s *Server) maybeFanOut(msg *messagebus.Message) {
	if s.Bus == nil {
		return
	}
	for _, f := range s.fanouts {
		if f.name != msg.Name {
			continue
		}
		if f.matchKey != "" {
			v, _ := msg.GetParam(f.matchKey)
			if v != f.matchVal {
				continue
			}
		}
		if err := s.Bus.Publish(s.MBPrefix+msg.Name, msg); err != nil {
			s.Log.Warn("fan-out publish failed", "message", msg.Name, "error", err)
		}
	}
}

// emitScriptInit broadcasts the script.init message at startup,
// carrying module/language/instance metadata.
func (s *Server) emitScriptInit() {
	msg := messagebus.NewMessage("script.init", true, map[string]string{
		"module":   "scriptrt",
		"language": "script",
		"startup":  "true",
		"instance": s.ID,
	})
	s.Dispatcher.Dispatch(msg, func(m *messagebus.Message) script.Operation {
		return s.Bridge.BuildMessageOperation(m)
	})
	if s.Bus != nil {
		_ = s.Bus.Publish(s.MBPrefix+"script.init", msg)
	}
}

// Info reports diagnostic state for the `info` console command:
// every loaded script name and every live channel id.
func (s *Server) Info() (scripts []string, channels []string) {
	return s.Catalog.Names(), s.Channels.Names()
}

// Eval compiles expr as `var __eval = (<expr>);` and runs it against
// either the named script's first instance context (ctxName != "") or
// a fresh context, returning the resulting operation for the `eval`
// console command.
func (s *Server) Eval(ctxName, expr string) (script.Operation, error) {
	var ctx *script.Context
	if ctxName != "" {
		c, _, ok := s.Catalog.Lookup(ctxName)
		if !ok {
			return script.Operation{}, eris.Errorf("unknown script context: %s", ctxName)
		}
		ctx = c
	} else {
		ctx = script.NewContext(s.Bridge.RootPrototype(), 0, 1)
	}

	src := "var __eval = (" + expr + ");"
	code, err := script.NewSimpleCompiler().Compile("eval", []byte(src))
	if err != nil {
		return script.Operation{}, eris.Wrap(err, "compile eval expression")
	}
	info := script.NewInfo(script.InfoEval, "eval")
	runner := code.NewRunner(ctx, info)
	if st := runner.Execute(); st == script.Failed {
		return script.Operation{}, runner.LastError()
	}
	v, _, err := ctx.Get("__eval")
	return v, err
}

// Reload implements the `reload <script>` console command.
func (s *Server) Reload(name string) error {
	return s.Catalog.Reload(name)
}

// Load implements the `load [<name>=]<file>` console command:
// installs or replaces a dynamic script under the given name (or, if no
// name was supplied, the file argument as given).
func (s *Server) Load(name, file string) error {
	if name == "" {
		name = file
	}
	return s.Catalog.InitScript(name, file, manager.TypeDynamic, 1)
}

// Allocations implements the `allocations instance|total <scr>
// <top>` console command. kind selects per-instance-0 reporting versus
// the sum across every instance. top is accepted for CLI parity but
// unused, per manager.Catalog.Allocations's own documented limitation.
func (s *Server) Allocations(kind, name string, top int) int64 {
	_ = top
	if kind == "instance" {
		return s.Catalog.Allocations(name, 0)
	}
	return s.Catalog.Allocations(name, -1)
}

// Stop tears the server down in the order "Shutdown"
// describes: stop accepting new deliveries, detach handlers/post-hooks,
// drop contexts, clear the shared object registry.
func (s *Server) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}

	s.Channels.Shutdown()
	s.Catalog.Shutdown()
	s.Bridge.Shutdown()

	if s.Bus != nil {
		_ = s.Bus.Close()
	}
}
