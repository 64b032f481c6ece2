package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidate_RequiredFields(t *testing.T) {
	cases := []struct {
		name string
		env  MessageEnvelope
		want error
	}{
		{"missing sender", MessageEnvelope{RecipientID: "u2", EncryptedMessage: "abc"}, ErrMissingSender},
		{"missing recipient", MessageEnvelope{SenderID: "u1", EncryptedMessage: "abc"}, ErrMissingRecipient},
		{"missing ciphertext", MessageEnvelope{SenderID: "u1", RecipientID: "u2"}, ErrMissingCiphertext},
		{"valid", MessageEnvelope{SenderID: "u1", RecipientID: "u2", EncryptedMessage: "abc"}, nil},
	}

	for _, tc := range cases {
		err := tc.env.Validate()
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestNormalize_FillsMissingFields(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	env := MessageEnvelope{SenderID: "u1", RecipientID: "u2", EncryptedMessage: "abc"}
	env.Normalize(now)

	if env.ID == "" {
		t.Error("expected relay-assigned id")
	}
	if env.Timestamp != now.Format(time.RFC3339Nano) {
		t.Errorf("expected timestamp %q, got %q", now.Format(time.RFC3339Nano), env.Timestamp)
	}
}

func TestNormalize_PreservesExistingFields(t *testing.T) {
	env := MessageEnvelope{
		ID:               "msg-1",
		SenderID:         "u1",
		RecipientID:      "u2",
		EncryptedMessage: "abc",
		Timestamp:        "2025-01-01T00:00:00Z",
	}
	env.Normalize(time.Now())

	if env.ID != "msg-1" {
		t.Errorf("id overwritten: %q", env.ID)
	}
	if env.Timestamp != "2025-01-01T00:00:00Z" {
		t.Errorf("timestamp overwritten: %q", env.Timestamp)
	}
}

func TestUnmarshal_ExtraFieldsPassThrough(t *testing.T) {
	in := `{"sender_id":"u1","recipient_id":"u2","encrypted_message":"abc","reply_to":"msg-9","client":"ios"}`

	var env MessageEnvelope
	if err := json.Unmarshal([]byte(in), &env); err != nil {
		t.Fatal(err)
	}

	if env.SenderID != "u1" || env.RecipientID != "u2" || env.EncryptedMessage != "abc" {
		t.Fatalf("known fields not decoded: %+v", env)
	}
	if len(env.Extra) != 2 {
		t.Fatalf("expected 2 extra fields, got %d: %v", len(env.Extra), env.Extra)
	}

	out, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"reply_to":"msg-9"`, `"client":"ios"`, `"encrypted_message":"abc"`} {
		if !strings.Contains(string(out), want) {
			t.Errorf("round-tripped JSON missing %s: %s", want, out)
		}
	}
}

func TestMarshal_OmitsEmptyOptionalFields(t *testing.T) {
	env := MessageEnvelope{SenderID: "u1", RecipientID: "u2", EncryptedMessage: "abc"}

	out, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	for _, absent := range []string{`"id"`, `"timestamp"`, `"store_history"`} {
		if strings.Contains(string(out), absent) {
			t.Errorf("expected %s to be omitted: %s", absent, out)
		}
	}
}

func TestTime_FallbackOnGarbage(t *testing.T) {
	fallback := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	env := MessageEnvelope{Timestamp: "not-a-time"}
	if got := env.Time(fallback); !got.Equal(fallback) {
		t.Errorf("expected fallback time, got %v", got)
	}

	env.Timestamp = "2025-02-03T04:05:06Z"
	want := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	if got := env.Time(fallback); !got.Equal(want) {
		t.Errorf("expected parsed time %v, got %v", want, got)
	}
}
