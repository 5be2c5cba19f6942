// Package source provides file backed datasets: text lines and CSV records.
//
// Datasets built on a path re-open the file on every pass, so they can be repeated. Open and read failures are
// returned by Next and wrap datapipe.ErrSource.
package source
