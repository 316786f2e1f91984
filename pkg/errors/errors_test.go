package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodePolicy, status: http.StatusUnprocessableEntity, publicMsg: "request violates ledger policy", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodePolicy, "insufficient balance")
	if base.Code() != CodePolicy {
		t.Fatalf("expected policy code, got %s", base.Code())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}
	base.WithDetails(map[string]any{"available_cents": int64(4000)})
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeDependency, cause, "create checkout session")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Error() != "DEPENDENCY_ERROR: create checkout session" {
		t.Fatalf("unexpected error string %q", wrapped.Error())
	}
	if Wrap(CodeInternal, nil, "noop").Unwrap() != nil {
		t.Fatalf("wrap of nil cause should have no cause")
	}
}

func TestAsAndIsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeNotFound, "contribution not found"))
	if got := As(err); got == nil || got.Code() != CodeNotFound {
		t.Fatalf("As failed to return typed error")
	}
	if !Is(err, CodeNotFound) {
		t.Fatalf("expected Is to match not found")
	}
	if Is(err, CodeConflict) {
		t.Fatalf("Is matched the wrong code")
	}
	if As(nil) != nil || Is(nil, CodeInternal) {
		t.Fatalf("nil errors should not match")
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(nil) {
		t.Fatal("nil is not retryable")
	}
	if !Retryable(stdErrors.New("boom")) {
		t.Fatal("untyped errors are treated as internal")
	}
	if Retryable(New(CodePolicy, "insufficient balance")) {
		t.Fatal("policy violations are final")
	}
	if !Retryable(fmt.Errorf("publish: %w", New(CodeDependency, "pubsub down"))) {
		t.Fatal("dependency errors are retryable")
	}
}

func TestExposeMessageHidesInternal(t *testing.T) {
	if MetadataFor(CodeInternal).ExposeMessage {
		t.Fatal("internal messages must stay private")
	}
	for _, code := range []Code{CodeValidation, CodePolicy, CodeDependency, CodeUnauthorized} {
		if !MetadataFor(code).ExposeMessage {
			t.Fatalf("%s should expose its message", code)
		}
	}
}

func TestLogFieldsCollectsChain(t *testing.T) {
	root := stdErrors.New("connection reset")
	err := Wrap(CodeInternal, root, "update contribution")

	fields := LogFields(err)
	if fields["error_code"] != string(CodeInternal) {
		t.Fatalf("expected internal code, got %v", fields["error_code"])
	}
	if chain, _ := fields["error_chain"].([]string); len(chain) != 2 {
		t.Fatalf("expected two chain entries, got %v", fields["error_chain"])
	}
	if _, ok := fields["pg_code"]; ok {
		t.Fatal("pg fields only appear for postgres errors")
	}
}

func TestPGReadsPgxErrors(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: PGUniqueViolation, ConstraintName: "contributions_external_ref_key"})
	pg := PG(err)
	if pg == nil || pg.Code != PGUniqueViolation || pg.Constraint != "contributions_external_ref_key" {
		t.Fatalf("unexpected pg view %+v", pg)
	}
	if PG(stdErrors.New("plain")) != nil {
		t.Fatal("plain errors carry no pg view")
	}
}
