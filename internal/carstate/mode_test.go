package carstate

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "Standby", want: Standby},
		{in: "config", want: Config},
		{in: " remotecontrolled ", want: RemoteControlled},
		{in: "AutonomousControlled", want: AutonomousControlled},
		{in: "Parked", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidMode) {
				t.Errorf("ParseMode(%q): expected ErrInvalidMode, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMode(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestMode_Driving(t *testing.T) {
	driving := map[Mode]bool{
		Standby:              false,
		Config:               false,
		RemoteControlled:     true,
		AutonomousControlled: true,
	}
	for _, m := range Modes() {
		if m.Driving() != driving[m] {
			t.Errorf("Expected %s driving=%v", m, driving[m])
		}
	}
}

func TestMode_JSON(t *testing.T) {
	p, err := json.Marshal(Modes())
	if err != nil {
		t.Fatalf("Failed to marshal modes: %v", err)
	}
	want := `["Standby","Config","RemoteControlled","AutonomousControlled"]`
	if string(p) != want {
		t.Errorf("Expected %s, got %s", want, p)
	}

	var m Mode
	if err = json.Unmarshal([]byte(`"Config"`), &m); err != nil || m != Config {
		t.Errorf("Expected Config, got %s (%v)", m, err)
	}
	if _, err = Mode(9).MarshalText(); err == nil {
		t.Error("Expected an error marshaling an unknown mode")
	}
}
