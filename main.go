// Command mosaic is the terminal multiplexer's session process and its own
// drive-by client: the same binary either starts a new session or, when one
// of --split/--move-focus/--open-file is given, sends a single instruction
// to a session already running and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"mosaic/internal/app"
	"mosaic/internal/bus"
	"mosaic/internal/errctx"
	"mosaic/internal/hostterm"
	"mosaic/internal/ipcclient"
	"mosaic/internal/ipcserver"
	"mosaic/internal/layoutfile"
	"mosaic/internal/paneterm"
	"mosaic/internal/pluginhost"
	"mosaic/internal/ptybus"
	"mosaic/internal/render"
	"mosaic/internal/ringbuf"
	"mosaic/internal/screen"
	"mosaic/internal/sessionlog"
	"mosaic/internal/singleinstance"
	"mosaic/internal/workerutil"

	"github.com/fxamacker/cbor/v2"
)

// quitKey is the stdin byte that tears down the session process, Ctrl-Q —
// the same hotkey zellij itself binds to "quit"; see DESIGN.md for why this
// engine adopts it despite no teacher file naming it.
const quitKey = 0x11

func main() {
	var (
		layoutPath = flag.String("layout", "", "path to a layout file")
		maxPanes   = flag.Int("max-panes", 0, "cap on simultaneously live panes (0 = unlimited)")
		debug      = flag.Bool("debug", false, "enable debug logging")
		split      = flag.String("split", "", "drive-by: split the focused pane, h or v")
		moveFocus  = flag.Bool("move-focus", false, "drive-by: move focus to the next pane")
		openFile   = flag.String("open-file", "", "drive-by: open a pager pane over a file")
	)
	flag.Parse()

	setupLogging(*debug)

	if *split != "" || *moveFocus || *openFile != "" {
		if err := runDriveBy(*split, *moveFocus, *openFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := runSession(*layoutPath, *maxPanes); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(sessionlog.NewTeeHandler(base, level, nil)))
}

// runDriveBy implements the --split/--move-focus/--open-file CLI surface:
// one ServerInstruction sent to an already-running session, then exit.
func runDriveBy(split string, moveFocus bool, openFile string) error {
	serverPath, err := ringbuf.DefaultServerPath()
	if err != nil {
		return fmt.Errorf("mosaic: resolve server path: %w", err)
	}

	var instr ipcserver.Instruction
	switch {
	case split == "h":
		instr = ipcserver.Instruction{Kind: ipcserver.KindSplitHorizontally}
	case split == "v":
		instr = ipcserver.Instruction{Kind: ipcserver.KindSplitVertically}
	case split != "":
		return fmt.Errorf("mosaic: --split wants h or v, got %q", split)
	case moveFocus:
		instr = ipcserver.Instruction{Kind: ipcserver.KindMoveFocus}
	case openFile != "":
		instr = ipcserver.Instruction{Kind: ipcserver.KindOpenFile, FileName: openFile}
	}

	if err := ipcclient.SendServerInstruction(serverPath, "ServerInstruction", instr); err != nil {
		return fmt.Errorf("mosaic: %w", err)
	}
	return nil
}

// runSession starts the session process: every subsystem bus and goroutine,
// the initial pane layout, and the top-level dispatcher loop.
func runSession(layoutPath string, maxPanes int) error {
	lock, err := singleinstance.TryLock(singleinstance.DefaultMutexName())
	if err != nil {
		return fmt.Errorf("mosaic: %w", err)
	}
	defer lock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	appSender, appRx := bus.NewBounded[app.Instruction]("app", app.QueueCapacity)
	screenSender, screenRx := screen.NewSender()
	ptySender, ptyRx := ptybus.NewSender()
	pluginSender, pluginRx := pluginhost.NewSender()
	serverSender, serverRx := ipcserver.NewSender()

	states := paneterm.NewManager(0)

	ptyBus := ptybus.New(states, screenSender)
	ptyBus.SetMaxPanes(maxPanes)

	onAppInstruction := func(raw []byte) {
		// A plugin's send_app_instruction payload is the CBOR-encoded
		// app.State it wants installed; anything else is malformed and
		// dropped rather than crashing the dispatcher.
		var state app.State
		if err := cbor.Unmarshal(raw, &state); err != nil {
			slog.Warn("[main] dropping malformed app instruction from plugin", "error", err)
			return
		}
		if err := appSender.TrySend("SetState", app.Instruction{Kind: app.KindSetState, State: state}); err != nil {
			slog.Warn("[main] app bus rejected plugin-originated instruction", "error", err)
		}
	}

	pluginHost, err := pluginhost.New(ctx, "", "", screenSender, onAppInstruction)
	if err != nil {
		return fmt.Errorf("mosaic: start plugin host: %w", err)
	}

	host, err := hostterm.Open(screenSender)
	if err != nil {
		return fmt.Errorf("mosaic: open controlling terminal: %w", err)
	}
	rows, cols := host.Size()

	sc := screen.New(rows, cols)
	renderer := render.New(&render.Source{Panes: states, Plugins: pluginHost}, os.Stdout)

	recovery := workerutil.RecoveryOptions{IsShutdown: func() bool { return ctx.Err() != nil }}

	workerutil.RunWithPanicRecovery(ctx, "screen", &wg, func(ctx context.Context) {
		screen.Run(screenRx, sc, screen.Deps{Renderer: renderer, PtyWriter: ptyBus})
	}, recovery)

	if err := buildInitialLayout(layoutPath, ptyBus, sc); err != nil {
		return fmt.Errorf("mosaic: build initial layout: %w", err)
	}

	workerutil.RunWithPanicRecovery(ctx, "pty", &wg, func(ctx context.Context) {
		ptybus.Run(ptyRx, ptyBus)
	}, recovery)

	workerutil.RunWithPanicRecovery(ctx, "plugin", &wg, func(ctx context.Context) {
		pluginhost.Run(pluginRx, pluginHost)
	}, recovery)

	workerutil.RunWithPanicRecovery(ctx, "resize-watcher", &wg, func(ctx context.Context) {
		host.WatchResize(ctx)
	}, recovery)

	serverPath, err := ringbuf.DefaultServerPath()
	if err != nil {
		return fmt.Errorf("mosaic: resolve server path: %w", err)
	}
	serverTransport, err := ringbuf.Create(serverPath, ringbuf.DefaultSize)
	if err != nil {
		return fmt.Errorf("mosaic: create server transport: %w", err)
	}
	defer serverTransport.Close()

	// The client side owns the Create'd end of this buffer, the same as a
	// real drive-by client creating the buffer it hands the server's
	// BufferPath: that's the end whose doorbell a Recv blocks on. The
	// server's outbound half must be an Open'd end instead of the same
	// instance, since only Open sets peerAddr and lets Send ring the
	// client's doorbell — sharing one *unixTransport for both directions
	// leaves the server's Send with no peer to ring and the client's Recv
	// waiting on a doorbell that never rings.
	clientPath := serverPath + ".client"
	clientTransport, err := ringbuf.Create(clientPath, ringbuf.DefaultSize)
	if err != nil {
		return fmt.Errorf("mosaic: create local client transport: %w", err)
	}
	defer clientTransport.Close()

	serverSideClient, err := ringbuf.Open(clientPath)
	if err != nil {
		return fmt.Errorf("mosaic: open local client transport: %w", err)
	}
	defer serverSideClient.Close()

	server := ipcserver.New(ipcserver.Deps{Pty: ptySender})
	server.AttachLocalClient(serverSideClient)

	workerutil.RunWithPanicRecovery(ctx, "ipc-server", &wg, func(ctx context.Context) {
		ipcserver.Run(serverTransport, server)
	}, recovery)

	workerutil.RunWithPanicRecovery(ctx, "ipc-server-exit-watcher", &wg, func(ctx context.Context) {
		ipcserver.ExitWatcher(serverRx, serverTransport)
	}, recovery)

	workerutil.RunWithPanicRecovery(ctx, "ipc-client-router", &wg, func(ctx context.Context) {
		ipcclient.Router(clientTransport, func(instr ipcclient.Instruction, ctx errctx.ErrorContext) {
			switch instr.Kind {
			case ipcclient.KindToScreen:
				screenSender.Update(ctx)
				if err := screenSender.Send(string(instr.ScreenKind), instr.ToScreenInstruction()); err != nil {
					slog.Warn("[main] forwarding client instruction to screen bus failed", "error", err)
				}
			case ipcclient.KindClosePluginPane:
				pluginSender.Update(ctx)
				if err := pluginSender.Send("Unload", pluginhost.Instruction{Kind: pluginhost.KindUnload, Plugin: instr.PluginID}); err != nil {
					slog.Warn("[main] forwarding close-plugin-pane failed", "error", err)
				}
			case ipcclient.KindExit:
				if err := appSender.TrySend("Exit", app.Instruction{Kind: app.KindExit}); err != nil {
					slog.Warn("[main] posting exit from client router failed", "error", err)
				}
			case ipcclient.KindError:
				slog.Warn("[main] server reported an error", "message", instr.Message)
			}
		})
	}, recovery)

	workerutil.RunWithPanicRecovery(ctx, "stdin", &wg, func(ctx context.Context) {
		runStdinHandler(ctx, appSender, screenSender)
	}, recovery)

	deps := app.Deps{
		Pty:    ptySender,
		Screen: screenSender,
		Plugin: pluginSender,
		Server: serverSender,
		Host:   host,
	}
	app.Run(appRx, deps)

	cancel()
	return host.Close()
}

// buildInitialLayout spawns the startup pane set synchronously, before any
// other goroutine can observe the screen: a single default pane, or one pane
// per leaf of a --layout file zipped onto a custom layout tree.
func buildInitialLayout(layoutPath string, ptyBus *ptybus.Bus, sc *screen.Screen) error {
	layout := layoutfile.Default()
	if layoutPath != "" {
		loaded, err := layoutfile.Load(layoutPath)
		if err != nil {
			return err
		}
		layout = loaded
	}

	leaves := layoutfile.Leaves(layout)
	if len(leaves) == 0 {
		leaves = layoutfile.Leaves(layoutfile.Default())
	}

	ids := make([]screen.PaneID, 0, len(leaves))
	for _, leaf := range leaves {
		var path *string
		if leaf.Command != "" {
			path = &leaf.Command
		}
		id, err := ptyBus.SpawnPane(path)
		if err != nil {
			return fmt.Errorf("spawn pane: %w", err)
		}
		ids = append(ids, id)
	}

	first := &screen.Pane{ID: ids[0], Selectable: leaves[0].IsSelectable(), MaxHeight: leaves[0].MaxHeight, InvisibleBorders: leaves[0].InvisibleBorders}
	sc.NewTab("tab-1", first)

	if len(ids) == 1 {
		return nil
	}

	tree, err := layoutfile.BuildScreenLayout(layout, ids)
	if err != nil {
		return fmt.Errorf("build screen layout: %w", err)
	}
	return sc.ApplyCustomLayout(tree)
}

// runStdinHandler is the stdin-reader goroutine: raw bytes from the
// controlling terminal either trip the quit hotkey or get forwarded to the
// focused pane as a WriteCharacter instruction.
func runStdinHandler(ctx context.Context, appSender bus.Sender[app.Instruction], screenSender bus.Sender[screen.Instruction]) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := os.Stdin.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if len(chunk) == 1 && chunk[0] == quitKey {
				if err := appSender.TrySend("Exit", app.Instruction{Kind: app.KindExit}); err != nil {
					slog.Warn("[main] posting exit from stdin handler failed", "error", err)
				}
				return
			}
			if err := screenSender.Send("WriteCharacter", screen.Instruction{Kind: screen.KindWriteCharacter, Bytes: append([]byte(nil), chunk...)}); err != nil {
				slog.Debug("[main] forwarding stdin to screen bus failed", "error", err)
				return
			}
		}
		if err != nil {
			slog.Debug("[main] stdin closed", "error", err)
			return
		}
	}
}
