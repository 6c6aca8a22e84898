package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/lapor-warga/portal-backend/pkg/errors"
)

type registerBody struct {
	Email string `json:"email" validate:"required,email"`
	NIK   string `json:"nik" validate:"required,nik"`
}

func decode(t *testing.T, body string) (*registerBody, *pkgerrors.Error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var dest registerBody
	err := DecodeJSONBody(httptest.NewRecorder(), req, &dest)
	if err == nil {
		return &dest, nil
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	return nil, typed
}

func TestDecodeJSONBodyAccepts(t *testing.T) {
	dest, err := decode(t, `{"email":"siti@example.com","nik":"3201234567890001"}`)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if dest.NIK != "3201234567890001" {
		t.Fatalf("unexpected nik %q", dest.NIK)
	}
}

func TestDecodeJSONBodyRejects(t *testing.T) {
	cases := map[string]struct {
		body   string
		reason string
	}{
		"empty":         {``, "body is empty"},
		"syntax":        {`{"email":`, "malformed JSON"},
		"unknown field": {`{"email":"a@b.co","nik":"3201234567890001","role":"admin"}`, `unknown field "role"`},
		"wrong type":    {`{"email":1}`, "email must be string"},
		"trailing":      {`{"email":"a@b.co","nik":"3201234567890001"} {}`, ""},
		"oversized":     {`{"email":"` + strings.Repeat("a", MaxBodyBytes) + `"}`, "exceeds"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decode(t, tc.body)
			if err == nil {
				t.Fatalf("expected rejection")
			}
			if tc.reason == "" {
				return
			}
			details, _ := err.Details().(map[string]any)
			if got, _ := details["error"].(string); !strings.Contains(got, tc.reason) {
				t.Fatalf("expected reason containing %q, got %q", tc.reason, got)
			}
		})
	}
}

func TestDecodeJSONBodyFieldMessages(t *testing.T) {
	_, err := decode(t, `{"email":"nope","nik":"12ab"}`)
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	details, ok := err.Details().(map[string]string)
	if !ok {
		t.Fatalf("unexpected details %#v", err.Details())
	}
	if details["email"] != "must be a valid email" || details["nik"] != "must be 16 digits" {
		t.Fatalf("unexpected field messages %v", details)
	}
}
