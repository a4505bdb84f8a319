// Package table fetches and parses BMS difficulty tables.
//
// A table is published as an HTML page carrying a
// <meta name="bmstable" content="..."> tag that points (possibly
// relatively) at a header.json document, which in turn names the
// body.json document containing the entry list. All URLs are resolved
// relative to the document that referenced them.
package table
