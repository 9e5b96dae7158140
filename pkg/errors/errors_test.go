package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-sql-driver/mysql"
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
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeRateLimit, status: http.StatusTooManyRequests, publicMsg: "rate limit exceeded", retryable: true},
		{code: CodeTransportTransient, status: http.StatusServiceUnavailable, publicMsg: "upstream temporarily unavailable", retryable: true, detailsOK: true},
		{code: CodeTransportExhausted, status: http.StatusBadGateway, publicMsg: "upstream retries exhausted", detailsOK: true},
		{code: CodeSerialization, status: http.StatusUnprocessableEntity, publicMsg: "payload could not be encoded", detailsOK: true},
		{code: CodeIdentityMappingMiss, status: http.StatusUnprocessableEntity, publicMsg: "no replacement identity recorded", detailsOK: true},
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
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
	if wrapped.Error() != "CONFLICT: ctx: boom" {
		t.Fatalf("unexpected message %q", wrapped.Error())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeNotFound, "gone"))
	if got := As(err); got == nil || got.Code() != CodeNotFound {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
	if CodeOf(stdErrors.New("plain")) != CodeInternal {
		t.Fatalf("uncoded errors should report internal")
	}
}

func TestIsCodeWalksNestedCodedErrors(t *testing.T) {
	inner := New(CodeRateLimit, "slow down")
	outer := Wrap(CodeTransportExhausted, inner, "gave up")

	if !IsCode(outer, CodeTransportExhausted) {
		t.Fatalf("expected outer code to match")
	}
	if !IsCode(outer, CodeRateLimit) {
		t.Fatalf("expected inner code to match")
	}
	if IsCode(outer, CodeNotFound) {
		t.Fatalf("unexpected match for unrelated code")
	}
	if IsCode(nil, CodeNotFound) {
		t.Fatalf("nil should never match")
	}
}

func TestDumpUnpacksDatabaseErrors(t *testing.T) {
	myErr := &mysql.MySQLError{Number: 1062, SQLState: [5]byte{'2', '3', '0', '0', '0'}, Message: "Duplicate entry '7-11' for key 'variant_backups.uniq_run_variant'"}
	err := Wrap(CodeConflict, fmt.Errorf("insert variant backup: %w", myErr), "save backup")

	dump := Dump(err)
	if dump.Code != CodeConflict {
		t.Fatalf("expected code %s, got %s", CodeConflict, dump.Code)
	}
	if dump.DBDriver != DumpDriverMySQL {
		t.Fatalf("expected mysql driver, got %q", dump.DBDriver)
	}
	if dump.MySQLNumber != 1062 || dump.MySQLSQLState != "23000" || dump.MySQLMessage != myErr.Message {
		t.Fatalf("unexpected mysql fields: %+v", dump)
	}
	if dump.PGCode != "" {
		t.Fatalf("mysql error should not fill postgres fields")
	}
	if len(dump.Chain) != 3 {
		t.Fatalf("expected 3 chain entries, got %d", len(dump.Chain))
	}

	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "uniq_run_variant", TableName: "variant_backups", Message: "duplicate key"}
	dump = Dump(Wrap(CodeConflict, pgErr, "save backup"))
	if dump.DBDriver != DumpDriverPGX || dump.PGCode != "23505" || dump.PGTable != "variant_backups" {
		t.Fatalf("unexpected postgres fields: %+v", dump)
	}
	if dump.MySQLNumber != 0 {
		t.Fatalf("postgres error should not fill mysql fields")
	}

	if Dump(nil).TopMessage != "" {
		t.Fatalf("nil error should dump empty")
	}
}
