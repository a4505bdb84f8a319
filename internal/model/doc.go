// Package model defines the domain types shared across the downloader:
// table entries, per-directory entry groups, and terminal outcomes.
//
// An Entry is one row of a BMS difficulty table. Entries that map to the
// same output directory are merged into an EntryGroup (one base archive,
// any number of diff archives). Each group is processed by exactly one
// worker and ends in exactly one Outcome.
package model
