package equihash

import "testing"

func TestVerifyRejectsShortHeader(t *testing.T) {
	p := mustParams(t, 200, 9, "ZcashPoW")
	header := make([]byte, 107)
	result := Verify(p, header, make([]byte, 32), make([]byte, p.SolutionWidth()))
	if result.Valid {
		t.Fatal("expected INVALID for a 107-byte header")
	}
	if result.Reason != reasonHeaderTooShort {
		t.Fatalf("reason = %q, want %q", result.Reason, reasonHeaderTooShort)
	}
}

func TestVerifyRejectsShortHeaderWithNilNonce(t *testing.T) {
	p := mustParams(t, 200, 9, "ZcashPoW")
	header := make([]byte, 107) // too short to extract an embedded nonce too
	result := Verify(p, header, nil, make([]byte, p.SolutionWidth()))
	if result.Valid {
		t.Fatal("expected INVALID for a 107-byte header")
	}
	if result.Reason != reasonHeaderTooShort {
		t.Fatalf("reason = %q, want %q (got the wrong diagnostic because the header-length check ran after nonce resolution)", result.Reason, reasonHeaderTooShort)
	}
}

func TestVerifyRejectsMissingNonce(t *testing.T) {
	p := mustParams(t, 200, 9, "ZcashPoW")
	header := make([]byte, 120) // >= 108, < 140: no embedded nonce available
	result := Verify(p, header, nil, make([]byte, p.SolutionWidth()))
	if result.Valid {
		t.Fatal("expected INVALID when no nonce is supplied or embeddable")
	}
	if result.Reason != reasonHeaderNoNonce {
		t.Fatalf("reason = %q, want %q", result.Reason, reasonHeaderNoNonce)
	}
}

func TestVerifyRejectsWrongSolutionLength(t *testing.T) {
	p := mustParams(t, 144, 5, "BgoldPoW")
	header := make([]byte, 140)
	solution := make([]byte, p.SolutionWidth()-1)

	result := Verify(p, header, nil, solution)
	if result.Valid {
		t.Fatal("expected INVALID for a truncated solution")
	}
	want := reasonSolutionLength(99, 100)
	if result.Reason != want {
		t.Fatalf("reason = %q, want %q", result.Reason, want)
	}
}

func TestVerifyRejectsBadParameters(t *testing.T) {
	p := Params{N: 200, K: 200}
	result := Verify(p, make([]byte, 140), make([]byte, 32), nil)
	if result.Valid {
		t.Fatal("expected INVALID for k >= n")
	}
}

func TestVerifyIsDeterministic(t *testing.T) {
	p := mustParams(t, 64, 7, "ZcashPoW")
	header := make([]byte, 108)
	nonce := make([]byte, 32)
	solution := make([]byte, p.SolutionWidth())

	a := Verify(p, header, nonce, solution)
	b := Verify(p, header, nonce, solution)
	if a != b {
		t.Fatalf("Verify is not deterministic: %+v != %+v", a, b)
	}
}

func TestVerifyRejectsWrongNonceLength(t *testing.T) {
	p := mustParams(t, 200, 9, "ZcashPoW")
	header := make([]byte, 140)
	result := Verify(p, header, make([]byte, 31), make([]byte, p.SolutionWidth()))
	if result.Valid {
		t.Fatal("expected INVALID for a 31-byte explicit nonce")
	}
}
