package mixer

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestExtractRequest(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"bare", `{"module":"audio","payload":{"action":"get_volume"}}` + "\r\n", `{"module":"audio","payload":{"action":"get_volume"}}`},
		{"padded", "   {\"a\":1}   \n", `{"a":1}`},
		{"log line", `[I][json:042]: {"module":"audio"}` + "\n", `{"module":"audio"}`},
		{"colored log line", "\x1b[0;32m[D][json:7]: {\"x\":true}\x1b[0m\n", `{"x":true}`},
		{"noise", "[I][wifi:300]: connected\n", ""},
		{"empty", "\n", ""},
		{"half object", "{\"module\":\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractRequest(tt.line); got != tt.want {
				t.Errorf("extractRequest(%q) = %q, want %q", tt.line, got, tt.want)
			}
		})
	}
}

func newTestSerial(t *testing.T) *SerialIO {
	t.Helper()

	system := newFakeAudioSystem()
	system.master = 30

	service := NewAudioService(zaptest.NewLogger(t).Sugar(), system, nil)
	d := newTestDispatcher(t, map[string]ModuleHandler{AudioModuleName: NewAudioModule(service)})

	sio, err := NewSerialIO(zaptest.NewLogger(t).Sugar(), d, true)
	if err != nil {
		t.Fatalf("NewSerialIO() error = %v", err)
	}

	return sio
}

func TestSerialHandleLine(t *testing.T) {
	sio := newTestSerial(t)

	response := sio.handleLine(sio.logger, `[I][json:001]: {"module":"audio","payload":{"action":"get_volume"}}`+"\n")
	if response == nil {
		t.Fatal("handleLine() = nil for a request line")
	}

	var r Response
	if err := json.Unmarshal(response, &r); err != nil {
		t.Fatalf("response is not a success envelope: %v (%s)", err, response)
	}
	if r.Data != float64(30) {
		t.Errorf("Data = %v, want 30", r.Data)
	}

	if response := sio.handleLine(sio.logger, "boot: ok\n"); response != nil {
		t.Errorf("handleLine() = %s for noise, want nil", response)
	}

	response = sio.handleLine(sio.logger, `{"module":"lights","payload":{}}`)
	if !bytes.Contains(response, []byte(`"code":404`)) {
		t.Errorf("handleLine() = %s, want a 404 envelope", response)
	}
}

func TestSerialWriteLine(t *testing.T) {
	sio := newTestSerial(t)

	var buf bytes.Buffer
	if err := sio.writeLine(&buf, []byte(`{"code":404}`)); err != nil {
		t.Fatalf("writeLine() error = %v", err)
	}

	if got := buf.String(); got != "{\"code\":404}\n" {
		t.Errorf("wrote %q", got)
	}
}

func TestSerialStopWhenIdle(t *testing.T) {
	sio := newTestSerial(t)

	sio.Stop()

	if sio.IsRunning() || sio.IsConnected() {
		t.Error("idle serial transport reports activity")
	}
	if !sio.WaitForStop(50 * time.Millisecond) {
		t.Error("WaitForStop() = false on an idle transport")
	}
}
