package app

import (
	"testing"
	"time"

	"mosaic/internal/bus"
	"mosaic/internal/ipcserver"
	"mosaic/internal/pluginhost"
	"mosaic/internal/ptybus"
	"mosaic/internal/screen"
)

type testBuses struct {
	appTx    bus.Sender[Instruction]
	screenRx bus.Receiver[screen.Instruction]
	pluginRx bus.Receiver[pluginhost.Instruction]
	ptyRx    bus.Receiver[ptybus.Instruction]
	serverRx bus.Receiver[ipcserver.Instruction]
}

func newTestApp(t *testing.T) testBuses {
	t.Helper()

	appTx, appRx := bus.NewBounded[Instruction]("app", QueueCapacity)
	screenTx, screenRx := bus.NewUnbounded[screen.Instruction]("screen")
	pluginTx, pluginRx := bus.NewUnbounded[pluginhost.Instruction]("plugin")
	ptyTx, ptyRx := bus.NewUnbounded[ptybus.Instruction]("pty")
	serverTx, serverRx := bus.NewUnbounded[ipcserver.Instruction]("server")

	deps := Deps{
		Pty:    ptyTx,
		Screen: screenTx,
		Plugin: pluginTx,
		Server: serverTx,
	}
	go Run(appRx, deps)

	return testBuses{appTx: appTx, screenRx: screenRx, pluginRx: pluginRx, ptyRx: ptyRx, serverRx: serverRx}
}

func recvWithTimeout[T any](t *testing.T, rx bus.Receiver[T]) T {
	t.Helper()
	type result struct {
		msg T
		ok  bool
	}
	ch := make(chan result, 1)
	go func() {
		msg, _, ok := rx.Recv()
		ch <- result{msg, ok}
	}()
	select {
	case r := <-ch:
		if !r.ok {
			t.Fatalf("receiver closed unexpectedly")
		}
		return r.msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
		var zero T
		return zero
	}
}

func TestGetStateReturnsLastSetState(t *testing.T) {
	a := newTestApp(t)

	if err := a.appTx.Send("SetState", Instruction{Kind: KindSetState, State: State{InputMode: "locked"}}); err != nil {
		t.Fatalf("send SetState: %v", err)
	}

	reply := make(chan State, 1)
	if err := a.appTx.Send("GetState", Instruction{Kind: KindGetState, StateReply: reply}); err != nil {
		t.Fatalf("send GetState: %v", err)
	}

	select {
	case got := <-reply:
		if got.InputMode != "locked" {
			t.Fatalf("InputMode = %q, want %q", got.InputMode, "locked")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for state reply")
	}
}

func TestToScreenForwardsInstructionVerbatim(t *testing.T) {
	a := newTestApp(t)

	screenInstr := screen.Instruction{Kind: screen.KindMoveFocus}
	if err := a.appTx.Send("ToScreen", Instruction{Kind: KindToScreen, Screen: screenInstr}); err != nil {
		t.Fatalf("send ToScreen: %v", err)
	}

	got := recvWithTimeout(t, a.screenRx)
	if got.Kind != screen.KindMoveFocus {
		t.Fatalf("Kind = %v, want KindMoveFocus", got.Kind)
	}
}

func TestToPluginForwardsInstructionVerbatim(t *testing.T) {
	a := newTestApp(t)

	pluginInstr := pluginhost.Instruction{Kind: pluginhost.KindDraw}
	if err := a.appTx.Send("ToPlugin", Instruction{Kind: KindToPlugin, Plugin: pluginInstr}); err != nil {
		t.Fatalf("send ToPlugin: %v", err)
	}

	got := recvWithTimeout(t, a.pluginRx)
	if got.Kind != pluginhost.KindDraw {
		t.Fatalf("Kind = %v, want KindDraw", got.Kind)
	}
}

func TestToPtyForwardsInstructionVerbatim(t *testing.T) {
	a := newTestApp(t)

	ptyInstr := ptybus.Instruction{Kind: ptybus.KindSpawnTerminal}
	if err := a.appTx.Send("ToPty", Instruction{Kind: KindToPty, Pty: ptyInstr}); err != nil {
		t.Fatalf("send ToPty: %v", err)
	}

	got := recvWithTimeout(t, a.ptyRx)
	if got.Kind != ptybus.KindSpawnTerminal {
		t.Fatalf("Kind = %v, want KindSpawnTerminal", got.Kind)
	}
}

func TestExitShutsDownEverySubsystemBus(t *testing.T) {
	a := newTestApp(t)

	if err := a.appTx.Send("Exit", Instruction{Kind: KindExit}); err != nil {
		t.Fatalf("send Exit: %v", err)
	}

	if got := recvWithTimeout(t, a.screenRx); got.Kind != screen.KindExit {
		t.Fatalf("screen Kind = %v, want KindExit", got.Kind)
	}
	if got := recvWithTimeout(t, a.pluginRx); got.Kind != pluginhost.KindExit {
		t.Fatalf("plugin Kind = %v, want KindExit", got.Kind)
	}
	if got := recvWithTimeout(t, a.ptyRx); got.Kind != ptybus.KindExit {
		t.Fatalf("pty Kind = %v, want KindExit", got.Kind)
	}
	if got := recvWithTimeout(t, a.serverRx); got.Kind != ipcserver.KindExit {
		t.Fatalf("server Kind = %v, want KindExit", got.Kind)
	}
}
