package wire

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// ResultTag identifies one of the operation result kinds.
type ResultTag uint8

// The registered operation result kinds.
const (
	ResultVoid ResultTag = iota
	ResultContract
	ResultError
)

// OperationResult is the per-operation outcome recorded in a processed
// transaction. Void results are produced by plain state transitions, contract
// results by contract calls, and error results by contract calls that failed
// inside the virtual machine without invalidating the transaction.
type OperationResult interface {
	// ResultTag returns the result kind.
	ResultTag() ResultTag

	// RealRunTime returns the measured execution time in microseconds, or
	// zero for results that carry no timing.
	RealRunTime() uint64

	// Serialize writes the result payload (without the tag byte).
	Serialize(w io.Writer) error
}

// VoidResult is the result of an operation with no observable outcome beyond
// its state changes.
type VoidResult struct{}

// ResultTag returns ResultVoid.
func (r *VoidResult) ResultTag() ResultTag { return ResultVoid }

// RealRunTime returns zero.
func (r *VoidResult) RealRunTime() uint64 { return 0 }

// Serialize writes nothing: a void result has no payload.
func (r *VoidResult) Serialize(w io.Writer) error { return nil }

// ContractResult is the result of a successful contract call.
type ContractResult struct {
	// ExistedPV reports whether the call produced process values that
	// later appliers must reproduce exactly.
	ExistedPV bool

	// RealRunningTime is the measured execution time in microseconds.
	RealRunningTime uint64
}

// ResultTag returns ResultContract.
func (r *ContractResult) ResultTag() ResultTag { return ResultContract }

// RealRunTime returns the measured execution time in microseconds.
func (r *ContractResult) RealRunTime() uint64 { return r.RealRunningTime }

// Serialize writes the result payload.
func (r *ContractResult) Serialize(w io.Writer) error {
	existed := uint8(0)
	if r.ExistedPV {
		existed = 1
	}
	err := writeUint8(w, existed)
	if err != nil {
		return err
	}
	return writeUint64(w, r.RealRunningTime)
}

// ErrorResult is the result of a contract call that failed inside the virtual
// machine. The transaction itself remains valid and the failure is recorded.
type ErrorResult struct {
	Code            uint32
	Message         string
	RealRunningTime uint64
}

// ResultTag returns ResultError.
func (r *ErrorResult) ResultTag() ResultTag { return ResultError }

// RealRunTime returns the measured execution time in microseconds.
func (r *ErrorResult) RealRunTime() uint64 { return r.RealRunningTime }

// Serialize writes the result payload.
func (r *ErrorResult) Serialize(w io.Writer) error {
	err := writeUint32(w, r.Code)
	if err != nil {
		return err
	}
	err = writeVarString(w, r.Message)
	if err != nil {
		return err
	}
	return writeUint64(w, r.RealRunningTime)
}

func writeOperationResult(w io.Writer, res OperationResult) error {
	err := writeUint8(w, uint8(res.ResultTag()))
	if err != nil {
		return err
	}
	return res.Serialize(w)
}

// OperationResultsEqual reports whether two result sequences are identical
// under serialization.
func OperationResultsEqual(a, b []OperationResult) bool {
	if len(a) != len(b) {
		return false
	}
	var bufA, bufB bytes.Buffer
	for i := range a {
		bufA.Reset()
		bufB.Reset()
		// Buffer writes never error.
		_ = writeOperationResult(&bufA, a[i])
		_ = writeOperationResult(&bufB, b[i])
		if !bytes.Equal(bufA.Bytes(), bufB.Bytes()) {
			return false
		}
	}
	return true
}

func writeOperationResults(w io.Writer, results []OperationResult) error {
	err := writeUint64(w, uint64(len(results)))
	if err != nil {
		return err
	}
	for _, res := range results {
		err = writeOperationResult(w, res)
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadOperationResult reads a tagged operation result from r.
func ReadOperationResult(r io.Reader) (OperationResult, error) {
	tag, err := readUint8(r)
	if err != nil {
		return nil, err
	}
	switch ResultTag(tag) {
	case ResultVoid:
		return &VoidResult{}, nil

	case ResultContract:
		res := &ContractResult{}
		existed, err := readUint8(r)
		if err != nil {
			return nil, err
		}
		res.ExistedPV = existed != 0
		res.RealRunningTime, err = readUint64(r)
		if err != nil {
			return nil, err
		}
		return res, nil

	case ResultError:
		res := &ErrorResult{}
		res.Code, err = readUint32(r)
		if err != nil {
			return nil, err
		}
		res.Message, err = readVarString(r)
		if err != nil {
			return nil, err
		}
		res.RealRunningTime, err = readUint64(r)
		if err != nil {
			return nil, err
		}
		return res, nil
	}
	return nil, errors.Errorf("unknown operation result tag %d", tag)
}

func readOperationResults(r io.Reader) ([]OperationResult, error) {
	count, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	if count > maxVarBytesLength {
		return nil, errors.Errorf("operation result count %d is too large", count)
	}
	results := make([]OperationResult, count)
	for i := range results {
		results[i], err = ReadOperationResult(r)
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
