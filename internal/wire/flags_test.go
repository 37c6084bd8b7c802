package wire

import "testing"

func TestFlagsString(t *testing.T) {
	tests := []struct {
		flags Flags
		want  string
	}{
		{0, "NONE"},
		{FlagSYN, "SYN"},
		{FlagACK, "ACK"},
		{FlagsSYNACK, "SYN|ACK"},
		{FlagsFINACK, "FIN|ACK"},
		{FlagSYN | 0x80, "SYN|0x80"},
		{0x01, "0x01"},
	}

	for _, tt := range tests {
		if got := tt.flags.String(); got != tt.want {
			t.Errorf("Flags(0x%02X).String() = %q, want %q", uint8(tt.flags), got, tt.want)
		}
	}
}

func TestFlagsHas(t *testing.T) {
	if !FlagsSYNACK.Has(FlagSYN) || !FlagsSYNACK.Has(FlagACK) {
		t.Error("SYN|ACK should contain SYN and ACK")
	}
	if FlagACK.Has(FlagsSYNACK) {
		t.Error("ACK alone should not contain SYN|ACK")
	}
	if FlagsSYNACK.Has(FlagFIN) {
		t.Error("SYN|ACK should not contain FIN")
	}
}
