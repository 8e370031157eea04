package equihash

import "fmt"

// Result is the outcome of a Verify call: either valid, or invalid
// with a diagnostic reason suitable for logging.
type Result struct {
	Valid  bool
	Reason string
}

func invalid(reason string) Result { return Result{Valid: false, Reason: reason} }

var validResult = Result{Valid: true}

// Verify checks whether solution witnesses a valid Equihash GBP
// collision for header+nonce under params. It is a pure, synchronous
// function safe to call concurrently: no shared state survives a call.
//
// nonce may be nil or empty, in which case it is extracted from
// header[108:140) and byte-reversed per the personalized hasher's
// absorption contract.
func Verify(params Params, header []byte, nonce []byte, solution []byte) Result {
	if err := params.Validate(); err != nil {
		return invalid(fmt.Sprintf("Invalid parameters: %s", err))
	}

	if len(header) < headerPrefixLen {
		return invalid(reasonHeaderTooShort)
	}

	var n [32]byte
	switch {
	case len(nonce) == 32:
		copy(n[:], nonce)
	case len(nonce) == 0:
		extracted, err := extractNonce(header)
		if err != nil {
			return invalid(reasonHeaderNoNonce)
		}
		n = extracted
	default:
		return invalid(fmt.Sprintf("Invalid nonce length: %d (expected 32)", len(nonce)))
	}

	want := params.SolutionWidth()
	if len(solution) != want {
		return invalid(reasonSolutionLength(len(solution), want))
	}

	indices, err := GetIndicesFromMinimal(solution, params.CollisionLength()+1)
	if err != nil {
		return invalid(fmt.Sprintf("Invalid solution: %s", err))
	}
	if len(indices) != params.SolutionCount() {
		return invalid(reasonBadRoundCount(len(indices)))
	}

	h, err := NewHasher(params)
	if err != nil {
		return invalid(fmt.Sprintf("Invalid parameters: %s", err))
	}
	if err := h.Seed(header, n); err != nil {
		return invalid(reasonHeaderTooShort)
	}

	rows, err := buildInitialRows(h, params, indices)
	if err != nil {
		return invalid(fmt.Sprintf("Invalid solution: %s", err))
	}

	reduced, reason := reduceRows(rows, params)
	if reason != "" {
		return invalid(reason)
	}

	if reason := finalCheck(reduced, params); reason != "" {
		return invalid(reason)
	}

	return validResult
}
