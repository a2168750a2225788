package indexer

import "fmt"

// BlockRange is an inclusive span of blocks fetched with one eth_getLogs call.
type BlockRange struct {
	From uint64
	To   uint64
}

// Len returns the number of blocks in r.
func (r BlockRange) Len() uint64 {
	return r.To - r.From + 1
}

// SplitRange cuts [from, to] into consecutive chunks of at most size blocks.
// Invalid input is reported as ErrUsage.
func SplitRange(from, to, size uint64) ([]BlockRange, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: batch size must be greater than zero", ErrUsage)
	}
	if err := ValidateRange(from, to); err != nil {
		return nil, err
	}

	chunks := make([]BlockRange, 0, (to-from)/size+1)
	for start := from; ; start += size {
		// to-start < size also guards start+size-1 against overflow near MaxUint64.
		if to-start < size {
			return append(chunks, BlockRange{From: start, To: to}), nil
		}
		chunks = append(chunks, BlockRange{From: start, To: start + size - 1})
	}
}
