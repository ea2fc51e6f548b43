// Per-collection transactions, spec.md §3 "Transaction: per collection,
// begin → (writes) → commit | abort." Delegates straight to the
// document heap's WAL; index writes are not currently journaled (see
// DESIGN.md's Open Question on index/document transactional scope).
package collection

import "github.com/jpl-au/docket/record"

func (c *Collection) TransactionBegin() error  { return c.docs.TransactionBegin() }
func (c *Collection) TransactionCommit() error { return c.docs.TransactionCommit() }
func (c *Collection) TransactionAbort() error  { return c.docs.TransactionAbort() }

func (c *Collection) TransactionStatus() record.TxStatus {
	return c.docs.TransactionStatus()
}
