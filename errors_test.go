package netd

import (
	"errors"
	"testing"
)

func TestNewErrorFormatting(t *testing.T) {
	err := NewError("bind", CodeInvalidArgs, "short address")
	if err.Error() == "" {
		t.Fatal("expected non-empty error string")
	}
	if !IsCode(err, CodeInvalidArgs) {
		t.Errorf("IsCode = false, want true for CodeInvalidArgs")
	}
}

func TestNewSocketErrorCarriesBadge(t *testing.T) {
	err := NewSocketError("send", 42, CodeWouldBlock, "not ready")
	if err.Badge != 42 {
		t.Errorf("Badge = %d, want 42", err.Badge)
	}
}

func TestWrapErrorPreservesInnerCode(t *testing.T) {
	inner := NewError("recv", CodeNotFound, "unknown badge")
	wrapped := WrapError("dispatch", inner)
	if wrapped.Code != CodeNotFound {
		t.Errorf("Code = %v, want CodeNotFound", wrapped.Code)
	}
}

func TestWrapErrorPlainErrorBecomesIO(t *testing.T) {
	wrapped := WrapError("probe", errors.New("mmap failed"))
	if wrapped.Code != CodeIO {
		t.Errorf("Code = %v, want CodeIO", wrapped.Code)
	}
}

func TestIsSuccessNoReplyNeverEscapesAsOrdinaryCode(t *testing.T) {
	if IsCode(successNoReply, CodeIO) {
		t.Error("successNoReply must not match an ordinary code")
	}
	if !isSuccessNoReply(successNoReply) {
		t.Error("isSuccessNoReply(successNoReply) = false, want true")
	}
	if isSuccessNoReply(NewError("x", CodeIO, "boom")) {
		t.Error("isSuccessNoReply matched an unrelated error")
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	a := NewError("op1", CodeTimeout, "one")
	b := NewError("op2", CodeTimeout, "two")
	if !errors.Is(a, b) {
		t.Error("expected errors with the same code to match via errors.Is")
	}
}
