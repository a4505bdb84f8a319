// Package resolve turns indirect hosting links into directly fetchable
// archive URLs.
//
// Table entries rarely point straight at an archive. They point at a
// Google Drive share page, a Dropbox share page, or a mirror index page
// that itself links to one of those. The Resolver pattern-matches the
// URL's host against provider strategies and follows the chain until it
// reaches something fetchable, bounded by a hop count and a visited set.
//
// When a mirror page exposes no download link in its static markup the
// Resolver falls back to the Renderer capability (a headless browser)
// and re-applies the same link heuristics against the rendered HTML.
// The fallback is strictly slower and is only attempted after the static
// strategies come up empty.
package resolve
