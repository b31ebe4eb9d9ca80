package vault

// MaxPositions bounds the credit and debt lists combined so every walk over
// the ledger does a fixed amount of work.
const MaxPositions = 32

// maxPositionID keeps position ids inside the 256-bit used bitmap.
const maxPositionID = 255

// Position ties one slot of the vault's ledger to an adaptor. The adaptor
// data blob identifies the concrete external position; the config blob is
// opaque strategy tuning passed through on every call.
type Position struct {
	ID          uint32
	AdaptorID   string
	IsDebt      bool
	AdaptorData []byte
	ConfigData  []byte
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{ID: p.ID, AdaptorID: p.AdaptorID, IsDebt: p.IsDebt}
	if p.AdaptorData != nil {
		clone.AdaptorData = append([]byte(nil), p.AdaptorData...)
	}
	if p.ConfigData != nil {
		clone.ConfigData = append([]byte(nil), p.ConfigData...)
	}
	return clone
}
