package dlr

import (
	"errors"
	"testing"
	"time"
)

func TestParseReceipt(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantID   string
		wantStat string
		wantErr  string
		parseErr error
	}{
		{
			name:     "standard appendix B form",
			payload:  "id:ABC12345 sub:001 dlvrd:001 submit date:2608291200 done date:2608291201 stat:DELIVRD err:000 text:hello",
			wantID:   "ABC12345",
			wantStat: "DELIVRD",
			wantErr:  "000",
		},
		{
			name:     "undelivered with error",
			payload:  "id:9f3b sub:001 dlvrd:000 stat:UNDELIV err:034 text:",
			wantID:   "9f3b",
			wantStat: "UNDELIV",
			wantErr:  "034",
		},
		{
			name:     "mixed case field labels",
			payload:  "ID:xyz-1 Stat:EXPIRED Err:255",
			wantID:   "xyz-1",
			wantStat: "EXPIRED",
			wantErr:  "255",
		},
		{
			name:     "extra whitespace after labels",
			payload:  "id:  77001 stat: DELIVRD err: 000",
			wantID:   "77001",
			wantStat: "DELIVRD",
			wantErr:  "000",
		},
		{
			name:     "missing stat and err",
			payload:  "id:42 done date:2608291201",
			wantID:   "42",
			wantStat: "",
			wantErr:  "",
		},
		{
			name:     "no id field",
			payload:  "hello from your carrier",
			parseErr: ErrNotReceipt,
		},
		{
			name:     "empty payload",
			payload:  "",
			parseErr: ErrNotReceipt,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseReceipt(tt.payload)
			if tt.parseErr != nil {
				if !errors.Is(err, tt.parseErr) {
					t.Fatalf("ParseReceipt error = %v, want %v", err, tt.parseErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseReceipt: %v", err)
			}
			if r.ProviderMessageID != tt.wantID {
				t.Errorf("id = %q, want %q", r.ProviderMessageID, tt.wantID)
			}
			if r.Stat != tt.wantStat {
				t.Errorf("stat = %q, want %q", r.Stat, tt.wantStat)
			}
			if r.ErrorCode != tt.wantErr {
				t.Errorf("err = %q, want %q", r.ErrorCode, tt.wantErr)
			}
			if r.Raw != tt.payload {
				t.Errorf("raw payload not preserved")
			}
		})
	}
}

func TestDeduperSeen(t *testing.T) {
	d := NewDeduper(time.Minute)

	payload := "id:1 stat:DELIVRD err:000"
	if d.Seen(payload, 10) {
		t.Error("first sighting reported as seen")
	}
	if !d.Seen(payload, 10) {
		t.Error("redelivery not reported as seen")
	}
	if d.Seen(payload, 11) {
		t.Error("same payload with different sequence number reported as seen")
	}
	if d.Seen("id:2 stat:DELIVRD err:000", 10) {
		t.Error("different payload with same sequence number reported as seen")
	}
}
