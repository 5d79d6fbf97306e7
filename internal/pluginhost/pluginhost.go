// Package pluginhost loads sandboxed widget modules into a wazero runtime,
// feeds them keys, and collects the bytes they draw. The sandbox boundary is
// exactly the host-provided imports: a plugin has no other way to reach the
// rest of the system, matching the isolation contract named in the design.
package pluginhost

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"mosaic/internal/bus"
	"mosaic/internal/screen"
)

// Kind enumerates the PluginInstruction variants this host's goroutine
// switches on.
type Kind string

const (
	KindLoad        Kind = "Load"
	KindDraw        Kind = "Draw"
	KindInput       Kind = "Input"
	KindGlobalInput Kind = "GlobalInput"
	KindUnload      Kind = "Unload"
	KindExit        Kind = "Exit"
)

// Instruction is the tagged union the plugin host goroutine consumes.
type Instruction struct {
	Kind   Kind
	Path   string
	Plugin uint32
	Rows   int
	Cols   int
	Key    []byte

	// Reply, when non-nil, receives exactly one Reply and is then closed —
	// Load, Draw and Input each send one when Reply is set; Input's Err is
	// non-nil only when the plugin trapped.
	Reply chan Reply
}

// Reply carries the result of a Load, Draw, or Input instruction back to
// the caller (the router on the client side, or the screen goroutine).
type Reply struct {
	PluginID uint32
	Bytes    []byte
	Err      error
}

func reply(instr Instruction, r Reply) {
	if instr.Reply != nil {
		instr.Reply <- r
		close(instr.Reply)
	}
}

// instance is one loaded plugin: its module, a stdin pipe the host writes
// serialized keys into, and a stdout capture the host drains after draw.
type instance struct {
	id    uint32
	path  string
	mod   api.Module
	stdin *pipeReader
	out   *captureWriter
}

// Host owns the plugin_id -> instance table named in the component design.
type Host struct {
	mu        sync.Mutex
	runtime   wazero.Runtime
	ctx       context.Context
	compiled  map[string]wazero.CompiledModule
	instances map[uint32]*instance
	nextID    atomic.Uint32

	userDir   string
	systemDir string

	screen           bus.Sender[screen.Instruction]
	onAppInstruction func([]byte)
}

// New builds a plugin host. userDir and systemDir are the third and fourth
// steps of Load's path resolution; either may be empty. screenSender is
// where a plugin's send_screen_instruction import forwards a redraw
// request. onAppInstruction, if non-nil, receives the raw bytes a plugin
// passes to send_app_instruction — wired by the top-level composition to
// the app bus, kept as a callback here to avoid an import cycle.
func New(ctx context.Context, userDir, systemDir string, screenSender bus.Sender[screen.Instruction], onAppInstruction func([]byte)) (*Host, error) {
	rt := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("pluginhost: instantiate wasi: %w", err)
	}

	h := &Host{
		runtime:          rt,
		ctx:              ctx,
		compiled:         map[string]wazero.CompiledModule{},
		instances:        map[uint32]*instance{},
		userDir:          userDir,
		systemDir:        systemDir,
		screen:           screenSender,
		onAppInstruction: onAppInstruction,
	}
	if _, err := h.registerHostImports(); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	return h, nil
}

func (h *Host) registerHostImports() (api.Module, error) {
	builder := h.runtime.NewHostModuleBuilder("env")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
			data, ok := mod.Memory().Read(ptr, length)
			if !ok {
				slog.Warn("[pluginhost] send_screen_instruction: invalid memory range", "ptr", ptr, "length", length)
				return
			}
			slog.Debug("[pluginhost] plugin requested a redraw", "bytes", len(data))
			if err := h.screen.Send("Render", screen.Instruction{Kind: screen.KindRender}); err != nil {
				slog.Debug("[pluginhost] forwarding plugin redraw signal failed", "error", err)
			}
		}).
		Export("send_screen_instruction")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
			data, ok := mod.Memory().Read(ptr, length)
			if !ok {
				slog.Warn("[pluginhost] send_app_instruction: invalid memory range", "ptr", ptr, "length", length)
				return
			}
			if h.onAppInstruction != nil {
				h.onAppInstruction(append([]byte(nil), data...))
			}
		}).
		Export("send_app_instruction")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
			data, ok := mod.Memory().Read(ptr, length)
			if !ok {
				return
			}
			slog.Info("[pluginhost] plugin log", "message", string(data))
		}).
		Export("logging")

	return builder.Instantiate(h.ctx)
}

// resolvePath implements Load's four-step search: the caller-supplied path
// as given, the same with a .wasm extension appended, then the same base
// name under the user plugin dir, then under the system plugin dir. First
// existing file wins.
func (h *Host) resolvePath(callerPath string) (string, error) {
	candidates := []string{callerPath}
	if !strings.HasSuffix(callerPath, ".wasm") {
		candidates = append(candidates, callerPath+".wasm")
	}
	base := filepath.Base(callerPath)
	if !strings.HasSuffix(base, ".wasm") {
		base += ".wasm"
	}
	for _, dir := range []string{h.userDir, h.systemDir} {
		if dir == "" {
			continue
		}
		candidates = append(candidates, filepath.Join(dir, base))
	}

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("pluginhost: no plugin binary found for %q", callerPath)
}

// Load resolves path, compiles the binary (cached by resolved path so a
// second instance of the same plugin skips recompilation), instantiates it
// with a sandboxed filesystem view rooted at the current working directory,
// runs its init export if present, and assigns it the next plugin id.
func (h *Host) Load(path string) (uint32, error) {
	resolved, err := h.resolvePath(path)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	compiled, ok := h.compiled[resolved]
	h.mu.Unlock()
	if !ok {
		binary, err := os.ReadFile(resolved)
		if err != nil {
			return 0, fmt.Errorf("pluginhost: read plugin %s: %w", resolved, err)
		}
		compiled, err = h.runtime.CompileModule(h.ctx, binary)
		if err != nil {
			return 0, fmt.Errorf("pluginhost: compile plugin %s: %w", resolved, err)
		}
		h.mu.Lock()
		h.compiled[resolved] = compiled
		h.mu.Unlock()
	}

	cwd, err := os.Getwd()
	if err != nil {
		return 0, fmt.Errorf("pluginhost: getwd: %w", err)
	}

	id := h.nextID.Add(1)
	stdin := newPipeReader()
	stdout := &captureWriter{}

	cfg := wazero.NewModuleConfig().
		WithName(fmt.Sprintf("plugin-%d", id)).
		WithStdin(stdin).
		WithStdout(stdout).
		WithFS(os.DirFS(cwd)).
		WithEnv("CLICOLOR_FORCE", "1")

	mod, err := h.runtime.InstantiateModule(h.ctx, compiled, cfg)
	if err != nil {
		stdin.Close()
		return 0, fmt.Errorf("pluginhost: instantiate plugin %s: %w", resolved, err)
	}

	if initFn := mod.ExportedFunction("init"); initFn != nil {
		if _, err := initFn.Call(h.ctx); err != nil {
			mod.Close(h.ctx)
			stdin.Close()
			return 0, fmt.Errorf("pluginhost: plugin %s init trapped: %w", resolved, err)
		}
	}

	h.mu.Lock()
	h.instances[id] = &instance{id: id, path: resolved, mod: mod, stdin: stdin, out: stdout}
	h.mu.Unlock()
	return id, nil
}

func (h *Host) get(id uint32) (*instance, error) {
	h.mu.Lock()
	inst := h.instances[id]
	h.mu.Unlock()
	if inst == nil {
		return nil, fmt.Errorf("pluginhost: no such plugin %d", id)
	}
	return inst, nil
}

// Draw calls the plugin's draw(rows,cols) export and returns whatever it
// wrote to its stdout pipe during that call.
func (h *Host) Draw(id uint32, rows, cols int) ([]byte, error) {
	inst, err := h.get(id)
	if err != nil {
		return nil, err
	}
	fn := inst.mod.ExportedFunction("draw")
	if fn == nil {
		return nil, fmt.Errorf("pluginhost: plugin %d has no draw export", id)
	}
	if _, err := fn.Call(h.ctx, uint64(rows), uint64(cols)); err != nil {
		return nil, h.trap(id, fmt.Errorf("pluginhost: plugin %d draw trapped: %w", id, err))
	}
	return inst.out.drain(), nil
}

// Input writes one key to the plugin's stdin pipe and invokes handle_key.
// A key addressed to an id that was already unloaded, or to a plugin with
// no handle_key export, is silently dropped rather than treated as an
// error.
func (h *Host) Input(id uint32, key []byte) error {
	inst, err := h.get(id)
	if err != nil {
		return nil
	}
	fn := inst.mod.ExportedFunction("handle_key")
	if fn == nil {
		return nil
	}
	inst.stdin.write(key)
	if _, err := fn.Call(h.ctx); err != nil {
		return h.trap(id, fmt.Errorf("pluginhost: plugin %d handle_key trapped: %w", id, err))
	}
	return nil
}

// GlobalInput broadcasts one key to every loaded plugin's handle_global_key
// export. A single plugin's trap is isolated: it is unloaded and logged,
// the broadcast continues to the rest.
func (h *Host) GlobalInput(key []byte) {
	h.mu.Lock()
	ids := make([]uint32, 0, len(h.instances))
	for id := range h.instances {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		inst, err := h.get(id)
		if err != nil {
			continue
		}
		fn := inst.mod.ExportedFunction("handle_global_key")
		if fn == nil {
			continue
		}
		inst.stdin.write(key)
		if _, err := fn.Call(h.ctx); err != nil {
			_ = h.trap(id, fmt.Errorf("pluginhost: plugin %d handle_global_key trapped: %w", id, err))
		}
	}
}

// trap implements the "plugin trap" category of the error taxonomy: unload
// the offending instance, log, and let the session continue.
func (h *Host) trap(id uint32, err error) error {
	slog.Warn("[pluginhost] plugin trapped, unloading", "plugin", id, "error", err)
	h.Unload(id)
	return err
}

// Unload drops a plugin instance. Further Input calls on this id are
// silently dropped and return nil.
func (h *Host) Unload(id uint32) {
	h.mu.Lock()
	inst := h.instances[id]
	delete(h.instances, id)
	h.mu.Unlock()
	if inst == nil {
		return
	}
	inst.stdin.Close()
	if err := inst.mod.Close(h.ctx); err != nil {
		slog.Debug("[pluginhost] close plugin module failed", "plugin", id, "error", err)
	}
}

// Close unloads every plugin and tears down the wazero runtime.
func (h *Host) Close() error {
	h.mu.Lock()
	ids := make([]uint32, 0, len(h.instances))
	for id := range h.instances {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.Unload(id)
	}
	return h.runtime.Close(h.ctx)
}

// Run is the plugin host goroutine: single-threaded dispatch over rx until
// Exit.
func Run(rx bus.Receiver[Instruction], h *Host) {
	for {
		instr, _, ok := rx.Recv()
		if !ok {
			return
		}

		switch instr.Kind {
		case KindLoad:
			id, err := h.Load(instr.Path)
			reply(instr, Reply{PluginID: id, Err: err})

		case KindDraw:
			b, err := h.Draw(instr.Plugin, instr.Rows, instr.Cols)
			reply(instr, Reply{PluginID: instr.Plugin, Bytes: b, Err: err})

		case KindInput:
			err := h.Input(instr.Plugin, instr.Key)
			reply(instr, Reply{PluginID: instr.Plugin, Err: err})

		case KindGlobalInput:
			h.GlobalInput(instr.Key)

		case KindUnload:
			h.Unload(instr.Plugin)

		case KindExit:
			if err := h.Close(); err != nil {
				slog.Warn("[pluginhost] close runtime failed", "error", err)
			}
			return

		default:
			slog.Warn("[pluginhost] unknown instruction kind, dropping", "kind", instr.Kind)
		}
	}
}

// NewSender matches the other buses' constructor shape.
func NewSender() (bus.Sender[Instruction], bus.Receiver[Instruction]) {
	return bus.NewUnbounded[Instruction]("plugin")
}

// pipeReader is a blocking, growable byte queue standing in for a plugin's
// stdin: the host writes one key at a time, the guest's read loop blocks
// until there is something to consume.
type pipeReader struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   []byte
	closed bool
}

func newPipeReader() *pipeReader {
	p := &pipeReader{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pipeReader) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.data) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.data) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.data)
	p.data = p.data[n:]
	return n, nil
}

func (p *pipeReader) write(b []byte) {
	p.mu.Lock()
	p.data = append(p.data, b...)
	p.cond.Signal()
	p.mu.Unlock()
}

func (p *pipeReader) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// captureWriter stands in for a plugin's stdout: the host drains it after
// every draw call instead of streaming it anywhere.
type captureWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *captureWriter) drain() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]byte(nil), c.buf.Bytes()...)
	c.buf.Reset()
	return out
}
