package server

import (
	"testing"
	"time"
)

func TestConfig_WithDefaults(t *testing.T) {
	got := Config{}.withDefaults()
	want := Config{
		Addr:           ":8081",
		PollTimeout:    time.Second,
		ReadBufferSize: 4096,
		MaxEvents:      128,
	}
	if got != want {
		t.Errorf("withDefaults() = %+v, want %+v", got, want)
	}

	custom := Config{Addr: "127.0.0.1:9000", PollTimeout: time.Millisecond, IdleTimeout: time.Minute}.withDefaults()
	if custom.Addr != "127.0.0.1:9000" || custom.PollTimeout != time.Millisecond || custom.IdleTimeout != time.Minute {
		t.Errorf("withDefaults() overrode explicit values: %+v", custom)
	}
}

func TestPhase_String(t *testing.T) {
	tests := []struct {
		p    phase
		want string
	}{
		{phaseHandshaking, "handshaking"},
		{phaseOpen, "open"},
		{phaseClosing, "closing"},
		{phaseClosed, "closed"},
		{phase(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.p.String(); got != tt.want {
			t.Errorf("phase(%d).String() = %q, want %q", int(tt.p), got, tt.want)
		}
	}
}

func TestConn_WriteTextRequiresOpen(t *testing.T) {
	c := newConn(nil, -1, "test", time.Now())
	if err := c.WriteText([]byte("x")); err != ErrConnClosed {
		t.Errorf("WriteText() during handshake error = %v, want ErrConnClosed", err)
	}
	if len(c.wbuf) != 0 {
		t.Errorf("wbuf = %q, want empty", c.wbuf)
	}
}
