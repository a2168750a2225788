package model

// TransferRecord is the persisted form of a Transfer event. Value is a base-10
// string so that the full 256-bit range survives storage and JSON.
type TransferRecord struct {
	DedupKey  string `json:"-"`
	From      string `json:"from"`
	To        string `json:"to"`
	Value     string `json:"value"`
	TxHash    string `json:"txHash"`
	LogIndex  uint32 `json:"logIndex"`
	BlockNum  uint64 `json:"blockNum"`
	IndexedAt int64  `json:"indexedAt"`
}

// Checkpoint is the singleton indexing progress marker. All blocks up to and
// including LastIndexedBlock have been processed by the streaming indexer.
type Checkpoint struct {
	LastIndexedBlock uint64 `json:"last_indexed_block"`
	UpdatedAt        string `json:"updated_at"`
}
