// Package archive extracts the archive formats song packages ship in:
// ZIP, RAR, 7z and LZH.
//
// # Format detection
//
// [Detect] sniffs the magic bytes at the start of the file and falls
// back to the file extension, because mirror hosts routinely serve
// archives with misleading names.
//
// # Filenames
//
// Entry names inside older archives are frequently Shift_JIS rather
// than UTF-8. [DecodeName] keeps valid UTF-8 as-is and transcodes
// everything else from Shift_JIS, so extracted song folders keep their
// Japanese titles intact.
//
// # Extraction
//
// [ExtractTo] walks an archive sequentially and writes its entries
// under a destination directory, skipping entries whose paths would
// escape it.
package archive
