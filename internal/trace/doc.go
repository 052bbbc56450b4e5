// Package trace verifies that design identifiers are backed by tags in
// implementation files.
//
// Scan extracts tag occurrences from one file. ComputeCoverage pairs
// fdd-begin/fdd-end markers per file, classifies every declared identifier
// and phase as Uncovered, PartiallyCovered or Covered, and cross-checks
// declared statuses against that classification. All defects are collected
// into the returned report; a problem in one file never stops the others.
package trace
