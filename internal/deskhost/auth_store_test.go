package deskhost

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAuthCredentialsValidate(t *testing.T) {
	cases := []struct {
		name    string
		creds   AuthCredentials
		wantErr error
	}{
		{"valid", AuthCredentials{Username: "operator_1", PIN: "123456"}, nil},
		{"username too short", AuthCredentials{Username: "ab", PIN: "123456"}, ErrUsernameLength},
		{"username bad chars", AuthCredentials{Username: "bad user!", PIN: "123456"}, ErrUsernameLength},
		{"pin too short", AuthCredentials{Username: "operator", PIN: "123"}, ErrPINLength},
		{"pin non-digit", AuthCredentials{Username: "operator", PIN: "12345a"}, ErrPINLength},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.creds.Validate()
			if tc.wantErr == nil && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if tc.wantErr != nil && err != tc.wantErr {
				t.Fatalf("Validate() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestLoadAuthCredentialsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.json")
	if err := os.WriteFile(path, []byte(`{"username":"operator_1","pin":"654321"}`), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	creds, err := LoadAuthCredentials(path)
	if err != nil {
		t.Fatalf("LoadAuthCredentials: %v", err)
	}
	if creds.Username != "operator_1" || creds.PIN != "654321" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
}

func TestLoadAuthCredentialsMissingFile(t *testing.T) {
	_, err := LoadAuthCredentials(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatal("expected error for a missing auth file")
	}
}

func TestLoadAuthCredentialsInvalidShape(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.json")
	if err := os.WriteFile(path, []byte(`{"username":"x","pin":"1"}`), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := LoadAuthCredentials(path)
	if err == nil {
		t.Fatal("expected error for credentials failing shape validation")
	}
}
