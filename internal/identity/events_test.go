package identity

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCreatedEventCodec(t *testing.T) {
	event := CreatedEvent{
		EventID:    uuid.New(),
		IdentityID: uuid.New(),
		Email:      "warga@example.com",
		Metadata:   Metadata{FullName: "Siti", NationalID: "123"},
		OccurredAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	data, err := EncodeCreatedEvent(event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeCreatedEvent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.IdentityID != event.IdentityID || decoded.Metadata.NationalID != "123" {
		t.Fatalf("unexpected decoded event %+v", decoded)
	}

	if _, err := DecodeCreatedEvent([]byte(`{"email":"x"}`)); err == nil {
		t.Fatalf("expected error without identity id")
	}
	if _, err := DecodeCreatedEvent([]byte(`not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNewPubSubPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
