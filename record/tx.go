// Transaction lifecycle wiring File to wal, per spec.md §4.A
// "Transactions": "Begin opens a WAL sidecar recording the current file
// size. Every write during the transaction journals its pre-image.
// Commit discards the log; Abort (or an unclean close) replays it."
package record

import "errors"

// TxStatus reports whether a transaction is currently open on a File.
type TxStatus int

const (
	TxNone TxStatus = iota
	TxOpen
)

var ErrTranOpen = errors.New("record: transaction already open")
var ErrTranNone = errors.New("record: no transaction open")

// TransactionBegin opens a write-ahead log for this file and starts
// journaling pre-images of every subsequent write.
func (f *File) TransactionBegin() error {
	if err := f.blockWrite(); err != nil {
		return err
	}
	defer f.unblockWrite()

	f.txMu.Lock()
	defer f.txMu.Unlock()
	if f.tx != nil {
		return ErrTranOpen
	}
	w, err := openWAL(f.walPath)
	if err != nil {
		return err
	}
	if err := w.begin(f.fileSize()); err != nil {
		w.close()
		return err
	}
	// Header writes bypass writeAt's journaling, so the header's
	// pre-image is journaled here for Abort and crash recovery.
	if err := w.journal(0, f.header.Encode()); err != nil {
		w.close()
		return err
	}
	f.tx = w
	return nil
}

// TransactionCommit discards the journal: the transaction's writes stand.
func (f *File) TransactionCommit() error {
	if err := f.blockWrite(); err != nil {
		return err
	}
	defer f.unblockWrite()

	f.txMu.Lock()
	defer f.txMu.Unlock()
	if f.tx == nil {
		return ErrTranNone
	}
	if err := f.tx.commit(); err != nil {
		return err
	}
	f.tx.close()
	f.tx.remove()
	f.tx = nil
	if f.config.SyncOnCommit {
		return f.writer.Sync()
	}
	return nil
}

// TransactionAbort replays the journal in reverse, restoring the file to
// its state at TransactionBegin.
func (f *File) TransactionAbort() error {
	if err := f.blockWrite(); err != nil {
		return err
	}
	defer f.unblockWrite()

	f.txMu.Lock()
	defer f.txMu.Unlock()
	if f.tx == nil {
		return ErrTranNone
	}
	if err := f.tx.replay(f.writer); err != nil {
		return err
	}
	f.tx.close()
	f.tx.remove()
	f.tx = nil

	info, err := f.writer.Stat()
	if err == nil {
		f.mm.remap(f.writer, info.Size(), f.config.MmapThreshold)
	}
	return f.reloadHeader()
}

// TransactionStatus reports whether a transaction is currently open.
func (f *File) TransactionStatus() TxStatus {
	f.txMu.Lock()
	defer f.txMu.Unlock()
	if f.tx != nil {
		return TxOpen
	}
	return TxNone
}
