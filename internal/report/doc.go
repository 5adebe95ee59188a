// Package report fetches finished research reports and judges whether a
// fetched text is a real report or an in-progress placeholder. Fetching runs
// an external retrieval command and then picks up the report file it wrote;
// only files modified within a short trailing window count, so a stale
// report from an earlier run is never mistaken for a fresh one.
package report
