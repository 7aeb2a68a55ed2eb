package engine

import (
	"encoding/json"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

// EngineSnapshot contains the full state of one instrument's matching core.
// Bids and asks are listed best price first, oldest first within a level,
// so Restore rebuilds identical price-time priority by inserting in order.
type EngineSnapshot struct {
	Pair           string          `json:"pair"`
	SequenceID     uint64          `json:"seq_id"`
	TradeID        uint64          `json:"trade_id"`
	Nonce          uint64          `json:"nonce"`
	LastTradePrice decimal.Decimal `json:"last_trade_price"`
	Bids           []*Order        `json:"bids"`
	Asks           []*Order        `json:"asks"`
}

// SnapshotMetadata holds the global metadata for a snapshot (stored in
// metadata.json).
type SnapshotMetadata struct {
	SchemaVersion    int    `json:"schema_version"`
	Timestamp        int64  `json:"timestamp"` // Unix nano
	Pair             string `json:"pair"`
	SequenceID       uint64 `json:"seq_id"`
	EngineVersion    string `json:"engine_version"`
	SnapshotChecksum uint32 `json:"snapshot_checksum"` // CRC32 of snapshot.bin
}

// createSnapshot runs on the engine loop goroutine, so it sees state
// consistent with respect to in-flight commands.
func (e *Engine) createSnapshot() *EngineSnapshot {
	snap := &EngineSnapshot{
		Pair:           e.pair,
		SequenceID:     e.sequenceID,
		TradeID:        e.tradeID,
		Nonce:          e.nonce,
		LastTradePrice: e.lastTradePrice,
		Bids:           make([]*Order, 0, e.bids.orderCount()),
		Asks:           make([]*Order, 0, e.asks.orderCount()),
	}

	e.bids.scan(func(o *Order) bool {
		snap.Bids = append(snap.Bids, copyOrder(o))
		return true
	})
	e.asks.scan(func(o *Order) bool {
		snap.Asks = append(snap.Asks, copyOrder(o))
		return true
	})
	return snap
}

// Restore rebuilds the engine state from a snapshot. It must be called
// before Start; the books, order table and owner registry are replaced.
func (e *Engine) Restore(snap *EngineSnapshot) error {
	if snap == nil {
		return ErrInvalidParam
	}

	e.sequenceID = snap.SequenceID
	e.tradeID = snap.TradeID
	e.nonce = snap.Nonce
	e.lastTradePrice = snap.LastTradePrice

	e.bids = NewBidBook()
	e.asks = NewAskBook()
	e.table = newOrderTable()
	e.owners = newOwnerRegistry()

	restore := func(orders []*Order, book *Book) error {
		for _, o := range orders {
			// Snapshots are written best first, so inserting in order
			// preserves price-time priority.
			if err := book.insert(o); err != nil {
				return err
			}
			if err := e.table.create(o); err != nil {
				return err
			}
			e.owners.add(o.Owner, o.ID)
		}
		return nil
	}

	if err := restore(snap.Bids, e.bids); err != nil {
		return err
	}
	return restore(snap.Asks, e.asks)
}

// SaveSnapshot captures the engine state through the loop and writes it to
// dir as snapshot.bin plus metadata.json. The write is atomic: everything
// goes to a temporary directory first, which then replaces dir.
func (e *Engine) SaveSnapshot(dir string) (*SnapshotMetadata, error) {
	snap, err := e.TakeSnapshot()
	if err != nil {
		return nil, err
	}

	tmpDir := dir + ".tmp"
	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, err
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}

	binPath := filepath.Join(tmpDir, "snapshot.bin")
	if err := os.WriteFile(binPath, data, 0600); err != nil {
		return nil, err
	}

	meta := &SnapshotMetadata{
		SchemaVersion:    SnapshotSchemaVersion,
		Timestamp:        time.Now().UnixNano(),
		Pair:             snap.Pair,
		SequenceID:       snap.SequenceID,
		EngineVersion:    EngineVersion,
		SnapshotChecksum: crc32.ChecksumIEEE(data),
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}
	metaPath := filepath.Join(tmpDir, "metadata.json")
	if err := os.WriteFile(metaPath, metaBytes, 0600); err != nil {
		return nil, err
	}

	// Replace the previous snapshot only once the new one is complete.
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpDir, dir); err != nil {
		return nil, err
	}
	return meta, nil
}

// LoadSnapshot reads a snapshot directory written by SaveSnapshot,
// verifying the checksum and schema version.
func LoadSnapshot(dir string) (*EngineSnapshot, *SnapshotMetadata, error) {
	metaBytes, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return nil, nil, err
	}
	var meta SnapshotMetadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, nil, err
	}
	if meta.SchemaVersion != SnapshotSchemaVersion {
		return nil, nil, errors.New("unsupported snapshot schema version")
	}

	binPath := filepath.Join(dir, "snapshot.bin")
	checksum, err := fileCRC32(binPath)
	if err != nil {
		return nil, nil, err
	}
	if checksum != meta.SnapshotChecksum {
		return nil, nil, errors.New("snapshot.bin checksum mismatch")
	}

	data, err := os.ReadFile(binPath)
	if err != nil {
		return nil, nil, err
	}
	var snap EngineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil, err
	}
	return &snap, &meta, nil
}

func fileCRC32(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := crc32.NewIEEE()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum32(), nil
}
