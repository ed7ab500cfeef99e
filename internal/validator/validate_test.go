package validator

import "testing"

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		input   string
		wantErr bool
	}{
		{"valid app name", "app", "live", false},
		{"valid stream name", "stream", "mystream-01", false},
		{"empty", "app", "", true},
		{"control character", "stream", "abc\x00def", true},
		{"too long", "app", string(make([]byte, maxNameLength+1)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.kind, tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateTcURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid rtmp", "rtmp://example.com/live", false},
		{"valid rtmps", "rtmps://example.com/live", false},
		{"http scheme rejected", "http://example.com/live", true},
		{"missing host", "rtmp:///live", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTcURL(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTcURL(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
